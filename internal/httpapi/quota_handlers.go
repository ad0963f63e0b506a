package httpapi

import (
	"net/http"
	"strings"

	"coachline.org/internal/session"
)

// handleQuota reports the caller's current usage window for a resource. The
// snapshot carries everything a client needs to render remaining capacity
// without a second round trip.
func (a *API) handleQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject, ok := session.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "session required")
		return
	}
	resource := strings.TrimSpace(r.URL.Query().Get("resource"))
	if resource == "" {
		writeError(w, r, http.StatusBadRequest, "", "resource query parameter is required")
		return
	}

	usage, err := a.svc.Quota.Usage(r.Context(), subject, resource)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "", "quota lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
