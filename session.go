package auth

import "time"

// SessionTracker enforces the idle timeout on authenticated sessions
type SessionTracker struct {
	timeout time.Duration
}

// NewSessionTracker returns a tracker, a non positive timeout uses the default
func NewSessionTracker(timeout time.Duration) SessionTracker {
	if timeout <= 0 {
		timeout = time.Duration(DefaultSessionTimeout) * time.Minute
	}
	return SessionTracker{timeout: timeout}
}

// Timeout returns the configured idle timeout
func (s SessionTracker) Timeout() time.Duration {
	return s.timeout
}

// Check reports whether a session with the given last activity is still
// alive at now. Exactly timeout of idleness is still alive. A session with
// no recorded activity is expired.
func (s SessionTracker) Check(lastActivity *time.Time, now time.Time) bool {
	if lastActivity == nil {
		return false
	}
	return now.Sub(*lastActivity) <= s.timeout
}

// Touch returns the new last activity value for a request handled at now
func (s SessionTracker) Touch(now time.Time) *time.Time {
	t := now
	return &t
}

// ExpiresAt returns the instant a session idles out
func (s SessionTracker) ExpiresAt(lastActivity *time.Time) time.Time {
	if lastActivity == nil {
		return time.Time{}
	}
	return lastActivity.Add(s.timeout)
}
