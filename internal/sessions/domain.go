// Package sessions owns the persistent session records and their
// lifecycle: creation at login, revocation, and expiry cleanup.
package sessions

import "time"

// Session binds an opaque token to a user, with expiry and device
// metadata. At most one row exists per token; a session is usable iff it
// is active and not yet expired.
type Session struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	Token         string     `json:"-"`
	IsActive      bool       `json:"is_active"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
	LastActive    time.Time  `json:"last_active"`
	IPAddress     string     `json:"ip_address,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	Location      string     `json:"location,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedBy     *int64     `json:"revoked_by,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
}

// Usable reports whether the session can still authenticate requests.
func (s *Session) Usable(now time.Time) bool {
	return s != nil && s.IsActive && now.Before(s.ExpiresAt)
}
