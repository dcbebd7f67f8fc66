// Package auth turns a bearer token into the verified user identifier the
// rest of docsage scopes every operation by.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DevUserHeader carries the caller identity when token verification is
// disabled. It is meant for local development only.
const DevUserHeader = "X-Docsage-User"

type contextKey struct{}

// Claims are the token claims docsage reads.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// UserID is the subject, falling back to the username claim.
func (c *Claims) UserID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.Username
}

// Config configures token verification.
type Config struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	Leeway          time.Duration
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration
}

// Verifier validates bearer tokens against a JWK set.
type Verifier struct {
	jwks   keyfunc.Keyfunc
	issuer string
	aud    string
	leeway time.Duration
}

// NewVerifier fetches signing keys from cfg.JWKSURL and refreshes them in the
// background. Startup does not fail when the endpoint is briefly unavailable.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		return nil, eris.New("auth: jwks url is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: cfg.HTTPTimeout},
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			zap.L().Error("auth: jwks refresh failed", zap.String("url", cfg.JWKSURL), zap.Error(err))
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "auth: jwks storage")
	}
	k, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, eris.Wrap(err, "auth: keyfunc")
	}
	return NewVerifierWithKeyfunc(k, cfg), nil
}

// NewVerifierWithKeyfunc builds a Verifier around an existing key source.
func NewVerifierWithKeyfunc(k keyfunc.Keyfunc, cfg Config) *Verifier {
	return &Verifier{jwks: k, issuer: cfg.Issuer, aud: cfg.Audience, leeway: cfg.Leeway}
}

// Verify parses and validates a raw token and returns its claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.aud != "" {
		opts = append(opts, jwt.WithAudience(v.aud))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(raw, claims, v.jwks.KeyfuncCtx(ctx), opts...); err != nil {
		return nil, eris.Wrap(err, "auth: verify token")
	}
	if claims.UserID() == "" {
		return nil, eris.New("auth: token has no subject")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// user identifier in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			unauthorized(w, "missing bearer token")
			return
		}
		claims, err := v.Verify(r.Context(), raw)
		if err != nil {
			zap.L().Debug("rejected token", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
			unauthorized(w, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID())))
	})
}

// DevMiddleware trusts DevUserHeader as the caller identity.
func DevMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(DevUserHeader))
		if user == "" {
			unauthorized(w, "missing "+DevUserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// WithUser returns a context carrying the user identifier.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext returns the user identifier set by a middleware.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKey{}).(string)
	return user, ok && user != ""
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"kind": "Unauthorized", "message": msg},
	})
}
