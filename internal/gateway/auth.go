package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned when a token is invalid or missing while
// anonymous access is disabled.
var ErrUnauthorized = errors.New("unauthorized")

// AuthConfig configures handshake authentication.
type AuthConfig struct {
	// Secret is the HS256 signing key. Empty disables token validation
	// entirely, which only makes sense behind a trusted proxy.
	Secret string

	// AllowAnonymous admits clients without a token under a generated
	// anonymous identity.
	AllowAnonymous bool
}

// Identity is the authenticated principal for a WebSocket session.
type Identity struct {
	UserID    string
	Anonymous bool
}

// Authenticator validates bearer tokens on the WebSocket handshake.
type Authenticator struct {
	cfg AuthConfig
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Authenticate extracts the identity from an upgrade request. Tokens
// arrive as an Authorization bearer header or a token query parameter;
// the query form exists because browsers cannot set headers on
// WebSocket dials.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	if token == "" {
		if a.cfg.AllowAnonymous {
			return anonymous(), nil
		}
		return nil, fmt.Errorf("%w: no token", ErrUnauthorized)
	}

	if a.cfg.Secret == "" {
		return anonymous(), nil
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.cfg.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return &Identity{UserID: claims.Subject}, nil
}

func anonymous() *Identity {
	return &Identity{
		UserID:    "anon-" + uuid.NewString()[:8],
		Anonymous: true,
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
