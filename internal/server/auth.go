package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"frequency/internal/domain"
	"frequency/internal/engine/auth"
	"frequency/internal/repo"
)

// DevUserHeader names the user directly when dev auth is enabled.
const DevUserHeader = "X-Frequency-User"

type AuthConfig struct {
	JWTSecret string
	// DevAuth enables POST /auth/dev/login and the DevUserHeader shortcut.
	DevAuth bool
	Logger  *slog.Logger
}

// Principal is the workspace user behind a request.
type Principal struct {
	UserID     string
	ExternalID string
	Email      string
	Source     string
}

// KeyStore resolves API keys for the auth middleware.
type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// actorID returns the user id writes are attributed to, or "" when the request
// is anonymous. The engine rejects anonymous writes itself.
func actorID(ctx context.Context) string {
	p, _ := principalFromContext(ctx)
	return p.UserID
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

func parseJWT(token, secret string) (*jwtClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("subject claim required")
	}
	return claims, nil
}

func signDevToken(secret, subject, email string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "frequency-dev",
		},
		Email: email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

type authenticator struct {
	cfg   AuthConfig
	users auth.Service
	keys  KeyStore
}

func (a authenticator) fromJWT(ctx context.Context, token string) (Principal, error) {
	claims, err := parseJWT(token, a.cfg.JWTSecret)
	if err != nil {
		return Principal{}, err
	}
	u, err := a.users.EnsureUser(ctx, claims.Subject, claims.Email)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: u.ID, ExternalID: u.ExternalID, Email: u.Email, Source: "jwt"}, nil
}

func (a authenticator) fromAPIKey(ctx context.Context, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	k, err := a.keys.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	u, err := a.keys.GetUser(ctx, k.UserID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: u.ID, ExternalID: u.ExternalID, Email: u.Email, Source: "api_key"}, nil
}

func (a authenticator) fromDevHeader(ctx context.Context, externalID string) (Principal, error) {
	u, err := a.users.EnsureUser(ctx, externalID, "")
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: u.ID, ExternalID: u.ExternalID, Email: u.Email, Source: "dev_header"}, nil
}

// newAuthMiddleware resolves a Principal for every API request except health
// and dev login. Requests without credentials are rejected.
func newAuthMiddleware(basePath string, a authenticator) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
		path.Join(basePath, "openapi.json"):   true,
	}
	invalid := func(w http.ResponseWriter, req *http.Request, source string, err error) {
		a.cfg.logger().Debug("authentication failed", "source", source, "path", req.URL.Path, "err", err)
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKey := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			devUser := strings.TrimSpace(req.Header.Get(DevUserHeader))

			var (
				p   Principal
				err error
			)
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					invalid(w, req, "jwt", errors.New("malformed authorization header"))
					return
				}
				p, err = a.fromJWT(req.Context(), token)
				if err != nil {
					invalid(w, req, "jwt", err)
					return
				}
			case apiKey != "":
				p, err = a.fromAPIKey(req.Context(), apiKey)
				if err != nil {
					invalid(w, req, "api_key", err)
					return
				}
			case devUser != "" && a.cfg.DevAuth:
				p, err = a.fromDevHeader(req.Context(), devUser)
				if err != nil {
					invalid(w, req, "dev_header", err)
					return
				}
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
