package domain

import "time"

// Session is the token bundle held for the signed-in identity.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Identity     Identity  `json:"identity"`
}

// ExpiresWithin reports whether the access token expires in less than d.
func (s *Session) ExpiresWithin(d time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(s.ExpiresAt) < d
}

// AuthEventType enumerates the notifications emitted by the auth service.
type AuthEventType string

const (
	AuthEventSignedIn       AuthEventType = "SIGNED_IN"
	AuthEventSignedOut      AuthEventType = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthEventType = "USER_UPDATED"
)

// AuthEvent is a session-change notification. Identity is nil for SignedOut.
type AuthEvent struct {
	Type     AuthEventType
	Identity *Identity
}

// SignedIn builds a SIGNED_IN event.
func SignedIn(identity Identity) AuthEvent {
	return AuthEvent{Type: AuthEventSignedIn, Identity: &identity}
}

// SignedOut builds a SIGNED_OUT event.
func SignedOut() AuthEvent {
	return AuthEvent{Type: AuthEventSignedOut}
}

// TokenRefreshed builds a TOKEN_REFRESHED event.
func TokenRefreshed(identity Identity) AuthEvent {
	return AuthEvent{Type: AuthEventTokenRefreshed, Identity: &identity}
}

// SessionState is the reactive triple published to every consumer.
// IsGhosting holds the admin user while an impersonation is active.
type SessionState struct {
	CurrentUser *User `json:"currentUser"`
	Loading     bool  `json:"loading"`
	IsGhosting  *User `json:"isGhosting"`
}

// GhostRecord is the durable impersonation record.
type GhostRecord struct {
	AdminUser  *User `json:"adminUser"`
	TargetUser *User `json:"targetUser,omitempty"`
}
