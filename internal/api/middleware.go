package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
)

// adminAuth requires "Authorization: Bearer <token>" on admin routes.
func adminAuth(token string) func(http.Handler) http.Handler {
	adapter := foundationerrors.NewHTTPErrorAdapter(nil)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, presented, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || scheme != "Bearer" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Warn("Security event: admin request rejected", slog.String("path", r.URL.Path))
				adapter.WriteErrorResponse(w, r, foundationerrors.AuthError("admin token required").Build())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
