package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"opsconsole.dev/internal/auth"
)

const (
	sessionCookie = "opsconsole_session"
	bearer        = "bearer "
)

// sessionToken prefers the session cookie and falls back to a bearer header.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len(bearer) && strings.EqualFold(header[:len(bearer)], bearer) {
		return strings.TrimSpace(header[len(bearer):])
	}
	return ""
}

// session resolves the caller's principal; requests without a live session get 401.
func (a *API) session(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			a.handleError(w, r, err)
			return
		}
		next(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// require gates next behind perm on top of an authenticated session.
func (a *API) require(perm string, next http.HandlerFunc) http.Handler {
	return a.session(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFromContext(r.Context())
		if err := principal.Require(perm); err != nil {
			a.handleError(w, r, err)
			return
		}
		next(w, r)
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func isNotApproved(err error) bool { return errors.Is(err, auth.ErrNotApproved) }
