package util

import (
	"net/http"
	"strings"
)

// GatewayApiRewrite strips the gateway prefix from the path when the request
// was routed through the assistant gateway.
func GatewayApiRewrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := "/api/inference-queue"

		if strings.HasPrefix(r.URL.Path, prefix) {
			r.URL.Path = strings.TrimPrefix(r.URL.Path, prefix)
			if r.URL.Path == "" {
				r.URL.Path = "/"
			}
		}

		next.ServeHTTP(w, r)
	})
}
