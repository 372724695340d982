package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hupe1980/agentstream/logging"
)

// Middleware rejects requests without a valid bearer token with 401 and
// attaches the caller's Identity to the request context otherwise. A nil
// verifier disables the check.
func Middleware(v Verifier, logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearer(r.Header.Get("Authorization"))
			if token == "" {
				// browsers cannot set headers on websocket upgrades
				token = r.URL.Query().Get("access_token")
			}
			id, err := v.Verify(r.Context(), token)
			if err != nil {
				if !errors.Is(err, ErrUnauthenticated) {
					logger.Error("auth.verify.error", "path", r.URL.Path, "error", err)
				} else {
					logger.Debug("auth.verify.rejected", "path", r.URL.Path, "error", err)
				}
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="agentstream"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": ErrUnauthenticated.Error()})
}
