package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crewgate/crewgate/internal/accred"
	"github.com/crewgate/crewgate/internal/audit"
	"github.com/crewgate/crewgate/internal/auth"
	"github.com/crewgate/crewgate/internal/validate"
)

// GrantRequest describes one phase grant in a create/update payload.
type GrantRequest struct {
	Granted     bool       `json:"granted"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
}

// CreateAccreditationRequest is the request body for creating a credential.
type CreateAccreditationRequest struct {
	EventID          string        `json:"event_id"`
	HolderName       string        `json:"holder_name"`
	Organization     string        `json:"organization"`
	JobTitle         string        `json:"job_title"`
	NationalID       string        `json:"national_id,omitempty"`
	NationalIDExpiry *time.Time    `json:"national_id_expiry,omitempty"`
	PassportNumber   string        `json:"passport_number,omitempty"`
	PassportExpiry   *time.Time    `json:"passport_expiry,omitempty"`
	AccessGroup      string        `json:"access_group"`
	BumpInGrant      *GrantRequest `json:"bump_in_grant,omitempty"`
	LiveGrant        *GrantRequest `json:"live_grant,omitempty"`
	BumpOutGrant     *GrantRequest `json:"bump_out_grant,omitempty"`
}

// UpdateAccreditationRequest is the request body for editing a draft or
// rejected credential. Only provided fields are changed.
type UpdateAccreditationRequest struct {
	HolderName       *string       `json:"holder_name,omitempty"`
	Organization     *string       `json:"organization,omitempty"`
	JobTitle         *string       `json:"job_title,omitempty"`
	NationalID       *string       `json:"national_id,omitempty"`
	NationalIDExpiry *time.Time    `json:"national_id_expiry,omitempty"`
	PassportNumber   *string       `json:"passport_number,omitempty"`
	PassportExpiry   *time.Time    `json:"passport_expiry,omitempty"`
	AccessGroup      *string       `json:"access_group,omitempty"`
	BumpInGrant      *GrantRequest `json:"bump_in_grant,omitempty"`
	LiveGrant        *GrantRequest `json:"live_grant,omitempty"`
	BumpOutGrant     *GrantRequest `json:"bump_out_grant,omitempty"`
}

// lifecycleRequest is the request body for decision endpoints. reject takes
// an optional note; revoke requires reason.
type lifecycleRequest struct {
	Note   string `json:"note,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// credentialResponse is a credential plus, on approval only, the freshly
// attached verification token so the portal can print the badge.
type credentialResponse struct {
	*accred.Credential
	VerificationToken string `json:"verification_token,omitempty"`
}

// AccreditationHandlers holds dependencies for credential HTTP handlers.
type AccreditationHandlers struct {
	svc     *accred.Service
	history audit.HistoryRepository
}

// NewAccreditationHandlers creates a new AccreditationHandlers instance.
func NewAccreditationHandlers(svc *accred.Service, history audit.HistoryRepository) *AccreditationHandlers {
	return &AccreditationHandlers{svc: svc, history: history}
}

// Collection handles /accreditations.
func (h *AccreditationHandlers) Collection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}
	h.create(w, r)
}

// Item dispatches /accreditations/{id} and /accreditations/{id}/{action}.
func (h *AccreditationHandlers) Item(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/accreditations/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "credential ID is required")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.get(w, r, id)
	case len(parts) == 1 && r.Method == http.MethodPatch:
		h.update(w, r, id)
	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		h.listHistory(w, r, id)
	case len(parts) == 2 && r.Method == http.MethodPost:
		h.transition(w, r, id, parts[1])
	default:
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "the requested resource was not found")
	}
}

func (h *AccreditationHandlers) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req CreateAccreditationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.EventID) == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "event_id is required")
		return
	}
	holderName, err := validate.HolderName(req.HolderName)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "holder_name: "+err.Error())
		return
	}

	cred := &accred.Credential{
		EventID:          req.EventID,
		HolderName:       holderName,
		Organization:     strings.TrimSpace(req.Organization),
		JobTitle:         strings.TrimSpace(req.JobTitle),
		NationalID:       strings.TrimSpace(req.NationalID),
		NationalIDExpiry: req.NationalIDExpiry,
		PassportNumber:   strings.TrimSpace(req.PassportNumber),
		PassportExpiry:   req.PassportExpiry,
		AccessGroup:      req.AccessGroup,
		BumpInGrant:      toGrant(req.BumpInGrant),
		LiveGrant:        toGrant(req.LiveGrant),
		BumpOutGrant:     toGrant(req.BumpOutGrant),
	}

	created, err := h.svc.Create(r.Context(), cred, actor)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (h *AccreditationHandlers) get(w http.ResponseWriter, r *http.Request, id string) {
	cred, err := h.svc.Get(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, cred)
}

func (h *AccreditationHandlers) update(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req UpdateAccreditationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON in request body")
		return
	}

	cred, err := h.svc.UpdateDraft(r.Context(), id, func(c *accred.Credential) {
		applyUpdate(c, &req)
	}, actor)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, cred)
}

// transition maps the action segment of the URL to a lifecycle operation.
func (h *AccreditationHandlers) transition(w http.ResponseWriter, r *http.Request, id, action string) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	// Decision endpoints may carry a body; an absent body is fine.
	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON in request body")
		return
	}
	if _, err := validate.Note(req.Note); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "note: "+err.Error())
		return
	}
	if _, err := validate.Note(req.Reason); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "reason: "+err.Error())
		return
	}

	var (
		cred *accred.Credential
		err  error
	)
	switch action {
	case "submit":
		cred, err = h.svc.Submit(r.Context(), id, actor)
	case "approve":
		cred, err = h.svc.Approve(r.Context(), id, actor)
	case "reject":
		cred, err = h.svc.Reject(r.Context(), id, actor, req.Note)
	case "return":
		cred, err = h.svc.ReturnToDraft(r.Context(), id, actor)
	case "revoke":
		cred, err = h.svc.Revoke(r.Context(), id, actor, req.Reason)
	default:
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "unknown lifecycle action")
		return
	}
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}

	resp := credentialResponse{Credential: cred}
	if action == "approve" {
		// The only moment the token crosses the portal API: badge printing.
		resp.VerificationToken = cred.VerificationToken
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *AccreditationHandlers) listHistory(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}
	if actor.Role != accred.RoleApprover && actor.Role != accred.RoleAdmin {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "history requires the approver or admin role")
		return
	}

	// Confirm the credential exists so an empty trail 404s correctly.
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}

	entries, err := h.history.ListByCredential(r.Context(), id, 0)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	if entries == nil {
		entries = []*audit.HistoryEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func toGrant(g *GrantRequest) accred.Grant {
	if g == nil {
		return accred.Grant{}
	}
	return accred.Grant{
		Granted:     g.Granted,
		WindowStart: g.WindowStart,
		WindowEnd:   g.WindowEnd,
	}
}

func applyUpdate(c *accred.Credential, req *UpdateAccreditationRequest) {
	if req.HolderName != nil {
		c.HolderName = strings.TrimSpace(*req.HolderName)
	}
	if req.Organization != nil {
		c.Organization = strings.TrimSpace(*req.Organization)
	}
	if req.JobTitle != nil {
		c.JobTitle = strings.TrimSpace(*req.JobTitle)
	}
	if req.NationalID != nil {
		c.NationalID = strings.TrimSpace(*req.NationalID)
	}
	if req.NationalIDExpiry != nil {
		c.NationalIDExpiry = req.NationalIDExpiry
	}
	if req.PassportNumber != nil {
		c.PassportNumber = strings.TrimSpace(*req.PassportNumber)
	}
	if req.PassportExpiry != nil {
		c.PassportExpiry = req.PassportExpiry
	}
	if req.AccessGroup != nil {
		c.AccessGroup = *req.AccessGroup
	}
	if req.BumpInGrant != nil {
		c.BumpInGrant = toGrant(req.BumpInGrant)
	}
	if req.LiveGrant != nil {
		c.LiveGrant = toGrant(req.LiveGrant)
	}
	if req.BumpOutGrant != nil {
		c.BumpOutGrant = toGrant(req.BumpOutGrant)
	}
}
