package httpapi

import (
	"net/http"
	"strings"
)

// isAdminEndpoint reports whether a route requires an admin session.
// Everything else on the API stays open to kiosk and display clients.
func isAdminEndpoint(method, path string) bool {
	switch path {
	case "/api/v1/queues/next", "/api/v1/queues/skip", "/api/v1/queues/reset":
		return true
	case "/api/v1/auth/login":
		return false
	case "/api/v1/auth/create":
		return true
	case "/api/v1/counters":
		return method != http.MethodGet
	}
	if strings.HasPrefix(path, "/api/v1/auth/") {
		return true
	}
	if strings.HasPrefix(path, "/api/v1/counters/") {
		return method != http.MethodGet
	}
	return false
}

// requireSession gates admin endpoints on a Bearer session token.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdminEndpoint(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, envelope{
				Status:  false,
				Message: "missing session token",
				Error:   &errorBody{Message: "missing session token"},
			})
			return
		}

		if _, err := h.store.GetSession(r.Context(), token); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
