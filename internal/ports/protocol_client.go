package ports

import "github.com/larriantoniy/tg_login_client/internal/domain"

// ProtocolClient is the asynchronous operation surface the facade drives.
// Every method returns immediately; callbacks run on the client's own goroutine,
// one at a time.
type ProtocolClient interface {
	RequestCode(creds domain.Credentials, phone string, done func(domain.Session, error))
	SignIn(creds domain.Credentials, phone, phoneCodeHash, code string, done func(domain.Authorization, error))
	FetchProfile(creds domain.Credentials, done func(domain.Profile, error))
	LogOut(done func(error))
	ApplyProxy(proxy domain.ProxyConfig, done func(error))

	// Post runs fn on the client goroutine after everything queued before it.
	// It returns the closed error, and does not run fn, once the client is closed.
	Post(fn func()) error
	// Available returns the error every operation would fail with before
	// looking at state (transport-unavailable, closed), or nil.
	// Call it from a callback or a Post closure.
	Available() error
	State() domain.AuthState
	Close()
}
