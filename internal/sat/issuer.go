package sat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"coachline.org/internal/ratelimit"
)

// DefaultTTL is the token lifetime. Short by design: a token proves the
// subject was recently authenticated and declared this exact action.
const DefaultTTL = 2 * time.Minute

// IssuedToken is the issuance result returned to the caller. RateLimit is
// populated on success and on rate-limited refusals alike so the transport
// layer can always emit telemetry headers.
type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
	RateLimit ratelimit.Result
}

// RateLimitedError is the issuance refusal for an exhausted budget. It keeps
// the limiter telemetry so callers can back off precisely.
type RateLimitedError struct {
	Result ratelimit.Result
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("sat: rate limited (retry in %ds)", e.Result.ResetSeconds())
}

// RefusalCode implements the taxonomy interface.
func (e *RateLimitedError) RefusalCode() Code { return CodeRateLimited }

// Issuer mints action tokens bound to a declared intended action. It does
// not decide whether the eventual action will succeed.
type Issuer struct {
	ledger  ReplayLedger
	limiter ratelimit.Limiter
	ttl     time.Duration
	now     func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer over the given replay ledger and limiter.
func NewIssuer(ledger ReplayLedger, limiter ratelimit.Limiter, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		ledger:  ledger,
		limiter: limiter,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue mints a signed token for (subject, feature, method, path), spending
// one unit of the subject's issuance budget and pre-inserting the unconsumed
// replay record.
func (i *Issuer) Issue(ctx context.Context, subject, feature, method, path, sessionID string) (IssuedToken, error) {
	subject = strings.TrimSpace(subject)
	feature = strings.TrimSpace(feature)
	method = strings.ToUpper(strings.TrimSpace(method))
	path = strings.TrimSpace(path)
	if subject == "" {
		return IssuedToken{}, errors.New("sat: subject is required")
	}
	if feature == "" || method == "" || path == "" {
		return IssuedToken{}, errors.New("sat: feature, method and path are required")
	}

	res, err := i.limiter.Take(ctx, subject)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("rate limiter: %w", err)
	}
	if !res.Allowed {
		return IssuedToken{RateLimit: res}, &RateLimitedError{Result: res}
	}

	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	tokenID := uuid.NewString()

	claims := Claims{
		Feature:     feature,
		BoundMethod: method,
		BoundPath:   path,
		SessionID:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        tokenID,
		},
	}
	token, err := Encode(claims)
	if err != nil {
		return IssuedToken{}, err
	}

	if err := i.ledger.Insert(ctx, Record{
		TokenID:     tokenID,
		Subject:     subject,
		Feature:     feature,
		BoundMethod: method,
		BoundPath:   path,
		SessionID:   sessionID,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}); err != nil {
		return IssuedToken{}, fmt.Errorf("replay ledger insert: %w", err)
	}

	return IssuedToken{
		Token:     token,
		TokenID:   tokenID,
		ExpiresAt: expiresAt,
		RateLimit: res,
	}, nil
}
