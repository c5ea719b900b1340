package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingBearer = errors.New("gateway: missing bearer token")

// Authenticator validates HMAC-signed bearer tokens on the admin routes. The
// token's "addr" claim names the calling address, which the fee policy then
// checks against the CHANGE_FEE admin.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator constructs an authenticator over the shared HMAC secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) callerAddress(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", errMissingBearer
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("gateway: unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("gateway: invalid token")
	}
	addr, _ := claims["addr"].(string)
	if strings.TrimSpace(addr) == "" {
		return "", fmt.Errorf("gateway: token missing addr claim")
	}
	return addr, nil
}

// Middleware rejects requests without a valid bearer token and stashes the
// caller address in the request header for downstream handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := a.callerAddress(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		r.Header.Set(callerHeader, addr)
		next.ServeHTTP(w, r)
	})
}
