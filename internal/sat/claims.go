// Package sat implements the signed action token protocol: short-lived,
// single-use capabilities bound to one subject, one feature, one HTTP method
// and one path, spent exactly once through an atomic replay-ledger claim.
package sat

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer            = "coachline-sat"
	secretEnvVariable = "COACHLINE_SAT_SECRET"
)

var (
	// ErrNotConfigured means the signing secret is absent. This is a fatal
	// configuration error and must never downgrade to an allow.
	ErrNotConfigured = errors.New("sat: signing secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// Claims is the fixed, tagged token payload. The binding fields are explicit
// struct members so the verifier's checks stay exhaustive.
type Claims struct {
	Feature     string `json:"feat"`
	BoundMethod string `json:"mtd"`
	BoundPath   string `json:"pth"`
	SessionID   string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Encode serializes and signs the claims with HS256.
func Encode(claims Claims) (string, error) {
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign action token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and claim shape of a presented token. The
// signature is checked before any claim is trusted; expiry is re-checked
// explicitly even though the library validates it, so a token minted by a
// codec revision that left expiry out of the signed payload still fails.
func Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return nil, errInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, errInvalidToken
	}
	return claims, nil
}

var errInvalidToken = errors.New("sat: invalid token")

func validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = ErrNotConfigured
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}
