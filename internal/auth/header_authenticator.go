package auth

import (
	"net/http"
	"strings"
)

// HeaderAuthenticator trusts the user id set by the gateway in front of the
// service.
type HeaderAuthenticator struct {
	header string
}

func NewHeaderAuthenticator(header string) (*HeaderAuthenticator, error) {
	if header == "" {
		header = "X-User-ID"
	}
	return &HeaderAuthenticator{header: header}, nil
}

func (h *HeaderAuthenticator) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(h.header))
		if userID == "" {
			http.Error(w, "missing user identity", http.StatusUnauthorized)
			return
		}

		ctx := NewUserContext(r.Context(), User{Username: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
