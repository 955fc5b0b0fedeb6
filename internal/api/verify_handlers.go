package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/crewgate/crewgate/internal/accred"
)

// VerifyHandlers holds dependencies for the checkpoint verification endpoint.
type VerifyHandlers struct {
	verifier *accred.Verifier
}

// NewVerifyHandlers creates a new VerifyHandlers instance.
func NewVerifyHandlers(verifier *accred.Verifier) *VerifyHandlers {
	return &VerifyHandlers{verifier: verifier}
}

// Verify handles GET /verify/{token}. Unknown tokens produce a 200 with a
// denial, not a 404: a checkpoint needs the decision and the reason, and the
// scan log entry is written either way. Non-200 responses mean no decision
// could be produced.
func (h *VerifyHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/verify/")
	if token == "" || strings.Contains(token, "/") {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "verification token is required")
		return
	}

	result, err := h.verifier.Verify(r.Context(), token, time.Now().UTC())
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
