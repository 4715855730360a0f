package httpapi

import (
	"net/http"
)

// Paths the UI may call without an active session: probes, both login
// flows, the session view itself (it reports "unauthenticated"), and the
// event stream the login screen listens on.
var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/login",
	"/v1/auth/pin",
	"/v1/session",
	"/v1/events",
	"/",
}

// withSession rejects calls that need a usable identity when neither a PIN
// session nor an account session is active. This is the daemon-side
// enforcement of the session state machine: an Expired session answers 401
// everywhere until a fresh login.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if a.sess == nil || a.sess.ActiveSession(r.Context()) == nil {
			writeError(w, r, http.StatusUnauthorized, "no active session")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
