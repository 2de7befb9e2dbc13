package middleware

import (
	"log/slog"
	"net/http"
)

// NewOriginAllowlist rejects upgrade requests from origins outside the
// configured set. An empty allowlist permits everything, which is the local
// development default; tab connections come from the extension's own
// surfaces, so there is no per-user credential to check here.
func NewOriginAllowlist(logger *slog.Logger, allowed []string) Middleware {
	allowedSet := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		allowedSet[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowedSet) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			origin := ""
			if ok {
				origin = reqMeta.Origin
			}
			if !allowedSet[origin] {
				logger.Warn("Rejecting connection from disallowed origin", slog.String("origin", origin))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
