package httpapi

import (
	"crypto/subtle"
	"strings"
)

// authorizeBearer checks the Authorization header against the
// configured shared secret. Comparison is constant time.
func authorizeBearer(authHeader, token string) bool {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if raw == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(raw), []byte(token)) == 1
}
