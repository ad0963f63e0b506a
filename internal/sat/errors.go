package sat

import "errors"

// Code identifies a refusal in the authorization taxonomy. Callers depend on
// exact code matching, so values are stable wire strings.
type Code string

const (
	CodeTokenRequired     Code = "token_required"
	CodeTokenInvalid      Code = "token_invalid"
	CodeSubjectMismatch   Code = "subject_mismatch"
	CodeFeatureForbidden  Code = "feature_forbidden"
	CodeBindingMismatch   Code = "binding_mismatch"
	CodeMissingTokenID    Code = "missing_token_id"
	CodeReplayedOrExpired Code = "replayed_or_expired"
	CodeRateLimited       Code = "rate_limited"
)

// Refusal is a terminal authorization denial. It is returned by value-carrying
// error paths instead of being collapsed into a generic unauthorized error.
type Refusal struct {
	Code Code
}

func (r *Refusal) Error() string { return "sat: refused (" + string(r.Code) + ")" }

func refuse(code Code) *Refusal { return &Refusal{Code: code} }

// coded is implemented by every refusal-class error in this module.
type coded interface {
	RefusalCode() Code
}

// RefusalCode implements coded.
func (r *Refusal) RefusalCode() Code { return r.Code }

// CodeOf extracts the taxonomy code from an error, when it carries one.
// Errors without a code (store failures, missing configuration) must be
// treated as internal and fail closed.
func CodeOf(err error) (Code, bool) {
	var c coded
	if errors.As(err, &c) {
		return c.RefusalCode(), true
	}
	return "", false
}
