package domain

import "time"

// AuthState is the per-client login state.
type AuthState int32

const (
	StateUnauthenticated AuthState = iota
	StateCodeRequested
	StateAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case StateCodeRequested:
		return "code-requested"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// SentCode — ответ сервера на запрос кода.
type SentCode struct {
	PhoneCodeHash string
	CodeLength    int
	// Timeout is how long the code stays valid. Zero means the server did not say.
	Timeout time.Duration
}

// Session связывает запрос кода с последующим входом.
// PhoneCodeHash действителен только для PhoneNumber, который его получил.
type Session struct {
	PhoneNumber   string
	PhoneCodeHash string
	CodeLength    int
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// Matches reports whether phone and hash belong to this session.
func (s *Session) Matches(phone, hash string) bool {
	return s != nil && s.PhoneCodeHash != "" && s.PhoneNumber == phone && s.PhoneCodeHash == hash
}

// Expired reports whether the code behind this session can no longer be used.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Authorization is the identity obtained by a successful sign-in.
type Authorization struct {
	UserID    int64
	Username  string
	AuthToken string
}

// Profile — данные текущего пользователя.
type Profile struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}
