// Package session carries the authenticated patient session through request
// handling. The upstream auth proxy verifies credentials; the gateway only
// consumes the identity it forwards. There is no ambient global user: every
// component that needs the session receives it explicitly via context.
package session

import "context"

type ctxKey string

const sessionKey ctxKey = "booking.session"

// Session is the per-request patient identity record.
type Session struct {
	PatientID string
	FullName  string
	Role      string
}

// IsAdmin reports whether the session may use the admin surface.
func (s Session) IsAdmin() bool {
	return s.Role == "admin"
}

// WithSession stores the session in context.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext extracts the session if present.
func FromContext(ctx context.Context) (Session, bool) {
	val := ctx.Value(sessionKey)
	if val == nil {
		return Session{}, false
	}
	s, ok := val.(Session)
	return s, ok && s.PatientID != ""
}
