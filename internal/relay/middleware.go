package relay

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/sharetube/syncroom/pkg/ctxlogger"
)

func (r *Relay) requestIdMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := ctxlogger.AppendCtx(req.Context(), slog.String("request_id", uuid.NewString()))
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func (r *Relay) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.logger.InfoContext(req.Context(), "request",
			"method", req.Method,
			"url", req.URL.String(),
			"remote_addr", req.RemoteAddr,
		)
		next.ServeHTTP(w, req)
	})
}
