package visaapi

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the access level carried by a token.
type Role string

const (
	// RoleAdmin may change data.
	RoleAdmin Role = "admin"

	// RoleViewer may only read.
	RoleViewer Role = "viewer"
)

var (
	errNoToken      = errors.New("authentication required")
	errInvalidToken = errors.New("invalid or expired token")
)

type tokenClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// authenticator issues and checks HS256 bearer tokens.
type authenticator struct {
	secret   []byte
	ttl      time.Duration
	required bool
	now      func() time.Time
}

func newAuthenticator(secret string, ttl time.Duration, required bool) (*authenticator, bool, error) {
	a := &authenticator{ttl: ttl, required: required, now: time.Now}
	generated := false
	if secret != "" {
		a.secret = []byte(secret)
	} else {
		a.secret = make([]byte, 32)
		if _, err := rand.Read(a.secret); err != nil {
			return nil, false, fmt.Errorf("generate token secret: %w", err)
		}
		generated = true
	}
	return a, generated, nil
}

// issue signs a token for role.
func (a *authenticator) issue(role Role) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(role),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// roleOf returns the caller's role. Without auth every caller is admin.
// A request with no token is a viewer and reports errNoToken; a bad token
// also falls back to viewer and reports errInvalidToken.
func (a *authenticator) roleOf(r *http.Request) (Role, error) {
	if !a.required {
		return RoleAdmin, nil
	}

	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return RoleViewer, errNoToken
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return RoleViewer, errInvalidToken
	}

	switch claims.Role {
	case RoleAdmin, RoleViewer:
		return claims.Role, nil
	default:
		return RoleViewer, errInvalidToken
	}
}

// requireAdmin rejects callers without an admin token: 401 when the token is
// missing or invalid, 403 when it is a valid viewer token.
func (c *Component) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.authorizeAdmin(w, r) {
			return
		}
		next(w, r)
	}
}

// authorizeAdmin writes the rejection and returns false for non-admin callers.
func (c *Component) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	role, err := c.auth.roleOf(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="visatrack"`)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Authentication required"})
		return false
	}
	if role != RoleAdmin {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "Admin access required"})
		return false
	}
	return true
}
