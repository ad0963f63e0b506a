package sat

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Request describes an inbound protected request and the token it presents.
type Request struct {
	Token     string // raw presented token, possibly empty
	Subject   string // authenticated subject of the current request
	Feature   string // feature the protected endpoint declares it requires
	Method    string // actual HTTP method of the current request
	Path      string // actual request path, matched exactly
	SessionID string // current session id, when session binding is enforced
}

// Grant is the successful authorization outcome.
type Grant struct {
	TokenID string
	Claims  *Claims
}

// Verifier decides authorize/deny for a presented token and consumes it
// exactly once.
type Verifier struct {
	ledger ReplayLedger
	now    func() time.Time
}

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides the time source (useful for tests).
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier constructs a Verifier over the given replay ledger.
func NewVerifier(ledger ReplayLedger, opts ...VerifierOption) *Verifier {
	v := &Verifier{ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Authorize runs the ordered refusal checks and then claims the token.
//
// The ordered checks exist for diagnostics: each failure maps to a distinct
// taxonomy code and the order is part of the contract. They are advisory
// only. The ledger claim at the end is the actual security boundary: two
// concurrent requests can both pass every advisory check, and the single
// conditional write is what guarantees at most one proceeds.
func (v *Verifier) Authorize(ctx context.Context, req Request) (Grant, error) {
	if strings.TrimSpace(req.Token) == "" {
		return Grant{}, refuse(CodeTokenRequired)
	}

	claims, err := Decode(req.Token)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			// Fail closed on missing configuration, not as a refusal.
			return Grant{}, err
		}
		return Grant{}, refuse(CodeTokenInvalid)
	}

	if claims.Subject != req.Subject {
		return Grant{}, refuse(CodeSubjectMismatch)
	}
	// Session binding is defense in depth: enforced only when both sides
	// carry an identifier.
	if claims.SessionID != "" && req.SessionID != "" && claims.SessionID != req.SessionID {
		return Grant{}, refuse(CodeSubjectMismatch)
	}

	if claims.Feature != req.Feature {
		return Grant{}, refuse(CodeFeatureForbidden)
	}

	// Exact equality on both binding dimensions; no prefix or suffix matching.
	if claims.BoundMethod != strings.ToUpper(req.Method) || claims.BoundPath != req.Path {
		return Grant{}, refuse(CodeBindingMismatch)
	}

	if strings.TrimSpace(claims.ID) == "" {
		return Grant{}, refuse(CodeMissingTokenID)
	}

	won, err := v.ledger.Claim(ctx, claims.ID, req.Subject, claims.BoundMethod, claims.BoundPath, v.now().UTC())
	if err != nil {
		return Grant{}, err
	}
	if !won {
		return Grant{}, refuse(CodeReplayedOrExpired)
	}

	return Grant{TokenID: claims.ID, Claims: claims}, nil
}
