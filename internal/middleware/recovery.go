package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/tokenbill/tokenbill/internal/handler"
	"github.com/tokenbill/tokenbill/internal/logging"
)

// Recovery turns a handler panic into a 500 instead of tearing down the
// connection mid-mutation.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logging.FromContext(r.Context()).Error("panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", v,
					"stack", string(debug.Stack()),
				)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
