package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN AUTHENTICATION
// Одна учётная запись администратора из конфигурации. Пароль проверяется
// по bcrypt-хэшу (или открытым текстом в development), сессия - HS256 токен.
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingToken       = errors.New("missing bearer token")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const (
	tokenIssuer = "course-bot"
	adminRole   = "admin"

	defaultTokenTTL = 12 * time.Hour
)

// AuthConfig configures the authenticator.
type AuthConfig struct {
	Username string

	// PasswordHash - bcrypt. Если пуст, сравнивается Password.
	Password     string
	PasswordHash string

	JWTSecret string
	TokenTTL  time.Duration
}

// Claims - содержимое токена администратора.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Session is issued on a successful login.
type Session struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticator checks admin credentials and bearer tokens.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	now    func() time.Time
}

// NewAuthenticator validates the configuration.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if cfg.Username == "" {
		return nil, errors.New("auth: username is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	if cfg.Password == "" && cfg.PasswordHash == "" {
		return nil, errors.New("auth: password or password hash is required")
	}
	if cfg.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth: invalid password hash: %w", err)
		}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	return &Authenticator{
		cfg:    cfg,
		secret: []byte(cfg.JWTSecret),
		now:    time.Now,
	}, nil
}

// HashPassword returns a bcrypt hash for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login checks credentials and issues a token.
func (a *Authenticator) Login(username, password string) (*Session, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.Username)) == 1

	var passOK bool
	if a.cfg.PasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(a.cfg.Password)) == 1
	}

	if !userOK || !passOK {
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	expires := now.Add(a.cfg.TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   a.cfg.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: adminRole,
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Session{Token: signed, TokenType: "Bearer", ExpiresAt: expires.UTC()}, nil
}

// Verify parses and validates a token.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != adminRole || claims.Subject != a.cfg.Username {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Middleware
// ─────────────────────────────────────────────────────────────────────────────

type claimsKey struct{}

// ClaimsFromContext returns the admin claims set by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Middleware requires "Authorization: Bearer <token>".
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := w.Header().Get("X-Request-ID")

		raw, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			WriteError(w, http.StatusUnauthorized, requestID, CodeUnauthorized, ErrMissingToken.Error())
			return
		}

		claims, err := a.Verify(raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin", error="invalid_token"`)
			WriteError(w, http.StatusUnauthorized, requestID, CodeUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
