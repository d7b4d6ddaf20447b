package ports

import (
	"context"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

// Transport переносит операции протокола до удалённого сервиса.
// Реализуется конкретными адаптерами (собственный wire-протокол, TDLib).
// All methods except CheckSecureChannel may block on network I/O and must honor ctx.
// Failures are reported as *domain.Error.
type Transport interface {
	// CheckSecureChannel verifies that a secure channel can be built without touching the network.
	CheckSecureChannel() error
	// ApplyProxy replaces the route used by the next dial; a disabled config means direct.
	ApplyProxy(ctx context.Context, proxy domain.ProxyConfig) error
	SendCode(ctx context.Context, creds domain.Credentials, phone string) (domain.SentCode, error)
	SignIn(ctx context.Context, creds domain.Credentials, phone, phoneCodeHash, code string) (domain.Authorization, error)
	GetProfile(ctx context.Context, creds domain.Credentials) (domain.Profile, error)
	LogOut(ctx context.Context) error
	Close() error
}
