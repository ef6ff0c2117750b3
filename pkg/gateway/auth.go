package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SecretHeader carries the shared secret on HTTP and WebSocket handshakes.
const SecretHeader = "X-Umile-Secret"

// AuthHandler checks the shared secret of incoming HTTP requests.
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler. An empty secret
// disables authentication.
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: strings.TrimSpace(sharedSecret),
	}
}

// Enabled reports whether a secret is required.
func (a *AuthHandler) Enabled() bool {
	return a.sharedSecret != ""
}

// Verify compares candidate against the shared secret in constant time.
func (a *AuthHandler) Verify(candidate string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(candidate)) == 1
}

// Authorize checks the secret header, falling back to the "secret" query
// parameter for browser clients that cannot set handshake headers.
func (a *AuthHandler) Authorize(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	if secret := r.Header.Get(SecretHeader); secret != "" {
		return a.Verify(secret)
	}
	return a.Verify(r.URL.Query().Get("secret"))
}

// Require wraps next with a 401 on failed authorization.
func (a *AuthHandler) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
