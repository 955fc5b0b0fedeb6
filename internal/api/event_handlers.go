package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crewgate/crewgate/internal/accred"
	"github.com/crewgate/crewgate/internal/audit"
	"github.com/crewgate/crewgate/internal/auth"
	"github.com/crewgate/crewgate/internal/event"
	"github.com/crewgate/crewgate/internal/validate"
)

// WindowRequest is a phase window in an event create request.
type WindowRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CreateEventRequest is the request body for creating an event.
type CreateEventRequest struct {
	Name                string        `json:"name"`
	BumpIn              WindowRequest `json:"bump_in"`
	Live                WindowRequest `json:"live"`
	BumpOut             WindowRequest `json:"bump_out"`
	AllowedAccessGroups []string      `json:"allowed_access_groups"`
}

// EventHandlers holds dependencies for event endpoints.
type EventHandlers struct {
	events event.Repository
	scans  audit.ScanRepository
}

// NewEventHandlers creates a new EventHandlers instance.
func NewEventHandlers(events event.Repository, scans audit.ScanRepository) *EventHandlers {
	return &EventHandlers{events: events, scans: scans}
}

// Collection handles requests to /events.
func (h *EventHandlers) Collection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}
	h.create(w, r)
}

// Item handles requests to /events/{id} and /events/{id}/scans.
func (h *EventHandlers) Item(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/events/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "event ID is required")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.get(w, r, id)
	case len(parts) == 2 && parts[1] == "scans" && r.Method == http.MethodGet:
		h.listScans(w, r, id)
	case len(parts) == 3 && parts[1] == "scans" && parts[2] == "export" && r.Method == http.MethodGet:
		h.exportScans(w, r, id)
	default:
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "the requested resource was not found")
	}
}

func (h *EventHandlers) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}
	if actor.Role != accred.RoleAdmin {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "only admins can create events")
		return
	}

	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON in request body")
		return
	}
	name, err := validate.EventName(req.Name)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "name: "+err.Error())
		return
	}

	ev := &event.Event{
		Name:                name,
		BumpIn:              event.Window{Start: req.BumpIn.Start, End: req.BumpIn.End},
		Live:                event.Window{Start: req.Live.Start, End: req.Live.End},
		BumpOut:             event.Window{Start: req.BumpOut.Start, End: req.BumpOut.End},
		AllowedAccessGroups: req.AllowedAccessGroups,
	}

	if err := ev.Validate(); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if err := h.events.Insert(r.Context(), ev); err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusCreated, ev)
}

func (h *EventHandlers) get(w http.ResponseWriter, r *http.Request, id string) {
	ev, err := h.events.GetByID(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, ev)
}

func (h *EventHandlers) listScans(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}
	if actor.Role != accred.RoleAdmin {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "only admins can view scan logs")
		return
	}

	// Confirm the event exists so an empty log and a bad ID look different.
	if _, err := h.events.GetByID(r.Context(), id); err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	scans, err := h.scans.ListByEvent(r.Context(), id, limit)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	if scans == nil {
		scans = []*audit.ScanEvent{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"scans": scans})
}

// exportScans handles GET /events/{id}/scans/export?format=csv|json.
func (h *EventHandlers) exportScans(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}
	if actor.Role != accred.RoleAdmin {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "only admins can export scan logs")
		return
	}

	if _, err := h.events.GetByID(r.Context(), id); err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}

	format := audit.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.ExportFormatCSV
	}
	opts := audit.ExportOptions{Format: format}

	if raw := r.URL.Query().Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "from must be RFC 3339")
			return
		}
		opts.From = ts
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "to must be RFC 3339")
			return
		}
		opts.To = ts
	}

	data, err := audit.ExportScans(r.Context(), h.scans, id, opts)
	if err != nil {
		if format != audit.ExportFormatCSV && format != audit.ExportFormatJSON {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "format must be csv or json")
			return
		}
		WriteDomainError(w, r.Context(), err)
		return
	}

	switch format {
	case audit.ExportFormatJSON:
		w.Header().Set("Content-Type", "application/json")
	default:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="scans-`+id+`.csv"`)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write export", "error", err)
	}
}
