package useCases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/larriantoniy/tg_login_client/internal/domain"
	"github.com/larriantoniy/tg_login_client/internal/ports"
)

// Facade is what the presentation layer talks to. It reads credentials and
// proxy settings from the store and forwards work to the protocol client.
// Callbacks run on the protocol client's goroutine.
type Facade struct {
	client ports.ProtocolClient
	store  ports.CredentialStore
	log    *slog.Logger
	seed   domain.Credentials

	mu      sync.Mutex
	applied domain.ProxyConfig
	hasLast bool

	// session is touched only from client callbacks and Post closures.
	session domain.Session
}

type FacadeOption func(*Facade)

// WithSeedCredentials sets API credentials used when the store has none.
func WithSeedCredentials(c domain.Credentials) FacadeOption {
	return func(f *Facade) { f.seed = c }
}

func NewFacade(client ports.ProtocolClient, store ports.CredentialStore, log *slog.Logger, opts ...FacadeOption) *Facade {
	f := &Facade{
		client: client,
		store:  store,
		log:    log.With("component", "facade"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Facade) State() domain.AuthState {
	return f.client.State()
}

func (f *Facade) Close() {
	f.client.Close()
}

// Credentials returns what is stored, for display.
func (f *Facade) Credentials(ctx context.Context) (domain.Credentials, error) {
	return f.store.Credentials(ctx)
}

func (f *Facade) Proxy(ctx context.Context) (domain.ProxyConfig, error) {
	return f.store.Proxy(ctx)
}

func (f *Facade) SetCredentials(ctx context.Context, c domain.Credentials) error {
	c.PhoneNumber = domain.NormalizePhone(c.PhoneNumber)
	if err := c.Validate(); err != nil {
		return err
	}
	if c.PhoneNumber != "" {
		if err := domain.ValidatePhone(c.PhoneNumber); err != nil {
			return err
		}
	}
	if err := f.store.SetCredentials(ctx, c); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	f.log.Info("credentials updated", "api_id", c.APIID)
	return nil
}

// SetProxy persists p and hands it to the client before anything queued
// after this call.
func (f *Facade) SetProxy(ctx context.Context, p domain.ProxyConfig) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := f.store.SetProxy(ctx, p); err != nil {
		return fmt.Errorf("save proxy: %w", err)
	}
	f.apply(p)
	return nil
}

// apply forwards p unless it is the one last handed to the client.
// A rejected config is forgotten so the next notification retries it.
func (f *Facade) apply(p domain.ProxyConfig) {
	f.mu.Lock()
	if f.hasLast && f.applied == p {
		f.mu.Unlock()
		return
	}
	f.applied = p
	f.hasLast = true
	f.mu.Unlock()

	f.client.ApplyProxy(p, func(err error) {
		if err != nil {
			f.mu.Lock()
			if f.applied == p {
				f.hasLast = false
			}
			f.mu.Unlock()
			f.log.Error("apply proxy failed", "enabled", p.Enabled, "host", p.Host, "error", err)
			return
		}
		f.log.Info("proxy applied", "enabled", p.Enabled, "host", p.Host, "port", p.Port)
	})
}

func (f *Facade) credentials(ctx context.Context) (domain.Credentials, error) {
	c, err := f.store.Credentials(ctx)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	if err := c.Validate(); err != nil {
		return domain.Credentials{}, err
	}
	return c, nil
}

// post runs fn on the client goroutine, or hands the closed error to fail.
func (f *Facade) post(fn func(), fail func(error)) {
	if err := f.client.Post(fn); err != nil {
		fail(err)
	}
}

// RequestCode asks for a login code. An empty phone means the stored one;
// a new phone is remembered.
func (f *Facade) RequestCode(ctx context.Context, phone string, done func(domain.Session, error)) {
	fail := func(err error) { done(domain.Session{}, err) }

	creds, err := f.credentials(ctx)
	if err != nil {
		// недоступный транспорт важнее отсутствующих учёток
		f.post(func() {
			if aerr := f.client.Available(); aerr != nil {
				fail(aerr)
				return
			}
			fail(err)
		}, fail)
		return
	}

	phone = domain.NormalizePhone(phone)
	if phone == "" {
		phone = creds.PhoneNumber
	}
	if phone != creds.PhoneNumber && domain.ValidatePhone(phone) == nil {
		creds.PhoneNumber = phone
		if err := f.store.SetCredentials(ctx, creds); err != nil {
			f.log.Warn("failed to remember phone", "error", err)
		}
	}

	f.client.RequestCode(creds, phone, func(s domain.Session, err error) {
		if err == nil {
			f.session = s
		}
		done(s, err)
	})
}

// SignIn submits code for the session from the last successful RequestCode.
func (f *Facade) SignIn(ctx context.Context, code string, done func(domain.Authorization, error)) {
	fail := func(err error) { done(domain.Authorization{}, err) }
	creds, credsErr := f.credentials(ctx)

	f.post(func() {
		if err := f.client.Available(); err != nil {
			fail(err)
			return
		}
		if credsErr != nil {
			fail(credsErr)
			return
		}
		if f.client.State() != domain.StateCodeRequested {
			fail(domain.E(domain.KindUnauthenticated, "signIn", errors.New("no code requested")))
			return
		}
		s := f.session
		f.client.SignIn(creds, s.PhoneNumber, s.PhoneCodeHash, code, done)
	}, fail)
}

func (f *Facade) FetchProfile(ctx context.Context, done func(domain.Profile, error)) {
	fail := func(err error) { done(domain.Profile{}, err) }
	creds, credsErr := f.credentials(ctx)

	f.post(func() {
		if err := f.client.Available(); err != nil {
			fail(err)
			return
		}
		if credsErr != nil {
			fail(credsErr)
			return
		}
		if f.client.State() != domain.StateAuthenticated {
			fail(domain.E(domain.KindUnauthenticated, "fetchProfile", errors.New("not signed in")))
			return
		}
		f.client.FetchProfile(creds, done)
	}, fail)
}

func (f *Facade) LogOut(done func(error)) {
	f.post(func() {
		if err := f.client.Available(); err != nil {
			done(err)
			return
		}
		if f.client.State() != domain.StateAuthenticated {
			done(domain.E(domain.KindUnauthenticated, "logOut", errors.New("not signed in")))
			return
		}
		f.client.LogOut(func(err error) {
			f.session = domain.Session{}
			done(err)
		})
	}, done)
}
