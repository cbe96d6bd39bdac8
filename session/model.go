package session

import "time"

// Session binds a live access token to a user and its activity metadata.
// It is keyed by user id plus the SHA-256 hash of the token, never by the
// raw token itself.
type Session struct {
	UserID         string
	TokenHash      string
	Username       string
	Role           string
	KindergartenID string
	IP             string
	UserAgent      string
	DeviceID       string

	// Unix milliseconds.
	LoginTime      int64
	LastActiveTime int64
	ExpiresAt      int64
}

// Expired reports whether the session's absolute expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.UnixMilli() >= s.ExpiresAt
}
