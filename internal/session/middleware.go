package session

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Header names set by the auth proxy in front of the gateway.
const (
	HeaderPatientID = "X-Patient-Id"
	HeaderFullName  = "X-Patient-Name"
	HeaderRole      = "X-Patient-Role"
)

// Middleware builds the request session from forwarded identity headers and
// rejects requests that carry none.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			patientID := strings.TrimSpace(r.Header.Get(HeaderPatientID))
			if patientID == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing patient identity"})
				return
			}
			s := Session{
				PatientID: patientID,
				FullName:  strings.TrimSpace(r.Header.Get(HeaderFullName)),
				Role:      strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole))),
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// RequireAdmin gates the admin surface on the session role.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := FromContext(r.Context())
			if !ok || !s.IsAdmin() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "admin role required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
