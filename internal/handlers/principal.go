package handlers

import (
	"net/http"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/config"
	"github.com/lojf/academy/internal/identity"
)

// Identify reads the verified principal from the identity provider's headers
// into the request context. Missing headers leave the caller anonymous.
func Identify(h config.IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := identity.New(
				r.Header.Get(h.AccountHeader),
				r.Header.Get(h.EmailHeader),
				r.Header.Get(h.NameHeader),
			)
			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAccount blocks callers without an account id.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.FromContext(r.Context()).AccountID == "" {
			writeError(w, nil, apperr.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireIdentity blocks anonymous callers; an email alone is enough.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.FromContext(r.Context()).Anonymous() {
			writeError(w, nil, apperr.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
