package httpapi

import (
	"net/http"
	"strings"
	"time"

	"coachline.org/internal/audit"
	"coachline.org/internal/session"
)

type sessionRequest struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

type sessionResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// handleSession exchanges a subject identity for a session credential.
// Identity proofing (passwords, SSO) is an upstream concern; deployments put
// this endpoint behind the identity provider.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", err.Error())
		return
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		writeError(w, r, http.StatusBadRequest, "", "subject is required")
		return
	}
	if len(subject) > 64 {
		writeError(w, r, http.StatusBadRequest, "", "subject must be <=64 characters")
		return
	}

	token, err := session.Issue(subject, req.Role, a.sessionTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "", "session issuance failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "session.issue", map[string]any{
		"subject": subject,
		"role":    req.Role,
	})

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     token,
		ExpiresIn: int64(a.sessionTTL / time.Second),
	})
}
