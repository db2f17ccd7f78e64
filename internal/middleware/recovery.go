package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/wudi/assetcache/internal/errors"
	"github.com/wudi/assetcache/internal/logging"
)

// Recovery turns a panicking handler into a 500 JSON error and logs the stack.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logging.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)

					httpErr := errors.ErrInternalServer.WithDetails(fmt.Sprintf("panic: %v", err))
					if reqID := RequestIDFromContext(r.Context()); reqID != "" {
						httpErr = httpErr.WithRequestID(reqID)
					}
					httpErr.WriteJSON(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
