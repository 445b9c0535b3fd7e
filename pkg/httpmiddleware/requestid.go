package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id: the client's X-Request-ID when it
// is usable, a fresh UUID otherwise. The id is echoed in the response,
// attached to the context logger as request_id and handed to each tag so
// the caller can carry it into work that outlives the request. Run it inside
// InjectLogger.
func RequestID(tags ...func(ctx context.Context, id string) context.Context) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !usableRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := zctx.With(r.Context(), zap.String("request_id", id))
			for _, tag := range tags {
				ctx = tag(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// usableRequestID accepts up to 64 bytes of URL-safe ASCII, enough for
// UUIDs and trace ids while keeping log and header injection out.
func usableRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range []byte(id) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}
