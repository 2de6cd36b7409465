package middleware

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
)

// DefaultRealm is advertised in the Basic challenge.
const DefaultRealm = "geofencing-sample"

// BasicAuth is a middleware factory that rejects requests whose Basic
// credentials do not match username and password.
func BasicAuth(username, password, realm string, logger *slog.Logger) func(http.Handler) http.Handler {
	challenge := fmt.Sprintf("Basic realm=%s", realm)
	wantUser := []byte(username)
	wantPass := []byte(password)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				logger.Warn("credentials missing from request", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				unauthorized(w, challenge)
				return
			}

			// Both comparisons always run.
			userOK := subtle.ConstantTimeCompare([]byte(user), wantUser)
			passOK := subtle.ConstantTimeCompare([]byte(pass), wantPass)
			if userOK&passOK != 1 {
				logger.Warn("invalid credentials provided", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				unauthorized(w, challenge)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, challenge string) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.WriteHeader(http.StatusUnauthorized)
}
