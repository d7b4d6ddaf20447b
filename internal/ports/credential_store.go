package ports

import (
	"context"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

// CredentialStore хранит учётные данные и настройки прокси.
type CredentialStore interface {
	Credentials(ctx context.Context) (domain.Credentials, error)
	SetCredentials(ctx context.Context, creds domain.Credentials) error

	Proxy(ctx context.Context) (domain.ProxyConfig, error)
	SetProxy(ctx context.Context, proxy domain.ProxyConfig) error

	// WatchProxy delivers the proxy config after every change until ctx is done,
	// then closes the channel.
	WatchProxy(ctx context.Context) (<-chan domain.ProxyConfig, error)
}
