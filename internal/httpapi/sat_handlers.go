package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coachline.org/internal/audit"
	"coachline.org/internal/obs"
	"coachline.org/internal/ratelimit"
	"coachline.org/internal/sat"
	"coachline.org/internal/session"
)

// ActionTokenHeader carries the action token on protected requests.
const ActionTokenHeader = "X-Action-Token"

type issueTokenRequest struct {
	Feature string `json:"feature"`
	Method  string `json:"method"`
	Path    string `json:"path"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueToken mints an action token for the authenticated subject's
// declared next action. Issuance spends one unit of the per-subject budget;
// telemetry headers are set on every response, allowed or denied.
func (a *API) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	subject, ok := session.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "session required")
		return
	}

	var req issueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", err.Error())
		return
	}
	if strings.TrimSpace(req.Feature) == "" || strings.TrimSpace(req.Method) == "" || strings.TrimSpace(req.Path) == "" {
		writeError(w, r, http.StatusBadRequest, "", "feature, method and path are required")
		return
	}

	issued, err := a.svc.Issuer.Issue(r.Context(), subject, req.Feature, req.Method, req.Path, session.IDFromContext(r.Context()))
	setRateLimitHeaders(w, issued.RateLimit)
	if err != nil {
		var limited *sat.RateLimitedError
		if errors.As(err, &limited) {
			obs.Refused(string(sat.CodeRateLimited))
			w.Header().Set("Retry-After", strconv.Itoa(limited.Result.ResetSeconds()))
			writeError(w, r, http.StatusTooManyRequests, string(sat.CodeRateLimited), "issuance budget exhausted")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "", "token issuance failed")
		return
	}

	obs.TokenIssued()
	_ = audit.LogEvent(r.Context(), "sat.token.issue", map[string]any{
		"token_id": issued.TokenID,
		"feature":  req.Feature,
		"method":   strings.ToUpper(req.Method),
		"path":     req.Path,
	})

	writeJSON(w, http.StatusOK, issueTokenResponse{
		Token:     issued.Token,
		TokenID:   issued.TokenID,
		ExpiresAt: issued.ExpiresAt,
	})
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Limit == 0 {
		return
	}
	w.Header().Set("RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("RateLimit-Reset", strconv.Itoa(res.ResetSeconds()))
}

// gate runs the action-token check for a protected endpoint. It returns the
// grant on success; on refusal it has already written the response.
func (a *API) gate(w http.ResponseWriter, r *http.Request, feature string) (sat.Grant, bool) {
	subject, ok := session.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "session required")
		return sat.Grant{}, false
	}

	grant, err := a.svc.Verifier.Authorize(r.Context(), sat.Request{
		Token:     strings.TrimSpace(r.Header.Get(ActionTokenHeader)),
		Subject:   subject,
		Feature:   feature,
		Method:    r.Method,
		Path:      r.URL.Path,
		SessionID: session.IDFromContext(r.Context()),
	})
	if err != nil {
		code, coded := sat.CodeOf(err)
		if !coded {
			// Store failures and missing configuration fail closed.
			writeError(w, r, http.StatusInternalServerError, "", "authorization error")
			return sat.Grant{}, false
		}
		obs.Refused(string(code))
		_ = audit.LogEvent(r.Context(), "sat.token.refuse", map[string]any{
			"code":    string(code),
			"feature": feature,
			"path":    r.URL.Path,
		})
		writeError(w, r, statusForRefusal(code), string(code), refusalMessage(code))
		return sat.Grant{}, false
	}

	_ = audit.LogEvent(r.Context(), "sat.token.consume", map[string]any{
		"token_id": grant.TokenID,
		"feature":  feature,
		"path":     r.URL.Path,
	})
	return grant, true
}

func statusForRefusal(code sat.Code) int {
	switch code {
	case sat.CodeTokenRequired:
		return http.StatusUnauthorized
	case sat.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

func refusalMessage(code sat.Code) string {
	switch code {
	case sat.CodeTokenRequired:
		return "action token is required"
	case sat.CodeTokenInvalid:
		return "action token failed validation"
	case sat.CodeSubjectMismatch:
		return "action token was issued to a different subject"
	case sat.CodeFeatureForbidden:
		return "action token does not grant this feature"
	case sat.CodeBindingMismatch:
		return "action token is bound to a different method or path"
	case sat.CodeMissingTokenID:
		return "action token carries no identifier"
	case sat.CodeReplayedOrExpired:
		return "action token was already used or has expired"
	default:
		return "action token refused"
	}
}
