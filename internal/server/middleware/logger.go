package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger logs each upgrade request before the websocket handshake
// runs. The only traffic here is extension surfaces attaching, so this is
// debug-level noise rather than an access log.
func NewRequestLogger(logger *slog.Logger) Middleware {
	httpLogger := logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip, origin string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
				origin = reqMeta.Origin
			}

			httpLogger.Debug("Incoming upgrade request",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
				slog.String("origin", origin),
			)
			next.ServeHTTP(w, r)
		})
	}
}
