// Package tg implements ports.Transport on top of TDLib (go-tdlib). The
// session database lives under <base_dir>/<phone>/ as before.
package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/zelenin/go-tdlib/client"

	"github.com/larriantoniy/tg_login_client/internal/adapters/tg/session"
	"github.com/larriantoniy/tg_login_client/internal/domain"
	"github.com/larriantoniy/tg_login_client/internal/netprobe"
)

type Config struct {
	BaseDir string
	// Verbosity is the TDLib log level, 1 logs errors only.
	Verbosity int32
}

// Transport реализует ports.Transport через TDLib.
type Transport struct {
	cfg   Config
	log   *slog.Logger
	probe *netprobe.Prober

	probeOnce sync.Once

	mu     sync.Mutex
	proxy  domain.ProxyConfig
	flow   *authFlow
	client *client.Client
}

func New(cfg Config, log *slog.Logger) *Transport {
	if cfg.Verbosity == 0 {
		cfg.Verbosity = 1
	}
	return &Transport{
		cfg:   cfg,
		log:   log.With("component", "tdlib"),
		probe: netprobe.New(log),
		proxy: domain.DefaultProxy(),
	}
}

// CheckSecureChannel makes sure libtdjson is loaded and answers, and that the
// session directory is usable.
func (t *Transport) CheckSecureChannel() error {
	if _, err := client.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{
		NewVerbosityLevel: t.cfg.Verbosity,
	}); err != nil {
		return domain.E(domain.KindTransportUnavailable, "tdlib", err)
	}
	if err := os.MkdirAll(t.cfg.BaseDir, 0o755); err != nil {
		return domain.E(domain.KindTransportUnavailable, "tdlib", fmt.Errorf("session dir: %w", err))
	}
	return nil
}

func addProxyRequest(p domain.ProxyConfig) *client.AddProxyRequest {
	return &client.AddProxyRequest{
		Server: p.Host,
		Port:   int32(p.Port),
		Enable: true,
		Type: &client.ProxyTypeSocks5{
			Username: p.Username,
			Password: p.Password,
		},
	}
}

// call runs a blocking TDLib request but stops waiting when ctx ends.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ApplyProxy applies p to the running TDLib client, if any, and remembers
// it for the next one.
func (t *Transport) ApplyProxy(ctx context.Context, p domain.ProxyConfig) error {
	if err := p.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	t.proxy = p
	td := t.client
	if td == nil && t.flow != nil {
		td = t.flow.client()
	}
	t.mu.Unlock()

	if td == nil {
		return nil
	}

	var err error
	if p.Active() {
		_, err = call(ctx, func() (*client.Proxy, error) { return td.AddProxy(addProxyRequest(p)) })
	} else {
		_, err = call(ctx, td.DisableProxy)
	}
	if err != nil {
		t.log.Error("apply proxy failed", "enabled", p.Enabled, "error", err)
		return mapError("proxy", err)
	}
	t.log.Info("proxy applied", "enabled", p.Enabled, "host", p.Host, "port", p.Port)
	return nil
}

func (t *Transport) newFlow(creds domain.Credentials, phone string) (*authFlow, error) {
	name := session.Name(phone)
	sc, err := session.Load(t.cfg.BaseDir, name)
	if err != nil {
		return nil, err
	}
	dbDir, filesDir, err := sc.Dirs(t.cfg.BaseDir)
	if err != nil {
		return nil, err
	}

	params := &client.SetTdlibParametersRequest{
		UseTestDc:           sc.UseTestDC,
		DatabaseDirectory:   dbDir,
		FilesDirectory:      filesDir,
		UseFileDatabase:     true,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  true,
		UseSecretChats:      false,
		ApiId:               creds.APIID,
		ApiHash:             creds.APIHash,
		SystemLanguageCode:  sc.LangCode,
		DeviceModel:         sc.Device,
		SystemVersion:       sc.SDK,
		ApplicationVersion:  sc.AppVersion,
	}

	log := t.log.With("session", sc.SessionFile)
	return newAuthFlow(uuid.NewString(), phone, params, log), nil
}

func (t *Transport) runFlow(f *authFlow, p domain.ProxyConfig) {
	ctx := context.Background()
	t.probeOnce.Do(func() { t.probe.Connectivity(ctx) })

	var opts []client.Option
	if p.Active() {
		// недоступный прокси не фатален, TDLib сам будет переподключаться
		if err := t.probe.Proxy(ctx, p); err != nil {
			f.log.Warn("proxy check failed", "error", err)
		}
		opts = append(opts, client.WithProxy(addProxyRequest(p)))
	}

	td, err := client.NewClient(f, opts...)
	if err != nil {
		f.log.Warn("authorization ended", "error", err)
		t.mu.Lock()
		if t.flow == f {
			t.flow = nil
		}
		t.mu.Unlock()
		f.finish(domain.Authorization{}, err)
		return
	}

	me, err := td.GetMe()
	if err != nil {
		f.log.Error("GetMe failed", "error", err)
		td.Close()
		f.finish(domain.Authorization{}, err)
		return
	}

	t.mu.Lock()
	superseded := t.flow != f
	if !superseded {
		t.client = td
	}
	t.mu.Unlock()

	if superseded {
		td.Close()
		f.finish(domain.Authorization{}, errFlowAborted)
		return
	}

	f.log.Info("TDLib client authorized", "self_id", me.Id)
	f.finish(domain.Authorization{
		UserID:    me.Id,
		Username:  username(me),
		AuthToken: f.token,
	}, nil)
}

func username(u *client.User) string {
	if u.Usernames != nil && len(u.Usernames.ActiveUsernames) > 0 {
		return u.Usernames.ActiveUsernames[0]
	}
	return ""
}

// SendCode starts a fresh TDLib authorization for phone and waits until TDLib
// reports that the code was sent. A previous unfinished one is aborted.
func (t *Transport) SendCode(ctx context.Context, creds domain.Credentials, phone string) (domain.SentCode, error) {
	const op = "auth.sendCode"

	f, err := t.newFlow(creds, phone)
	if err != nil {
		return domain.SentCode{}, domain.E(domain.KindNetwork, op, err)
	}

	t.mu.Lock()
	if t.client != nil {
		t.mu.Unlock()
		return domain.SentCode{}, domain.E(domain.KindInvalidState, op, errors.New("already authorized"))
	}
	if old := t.flow; old != nil {
		old.abort()
	}
	t.flow = f
	p := t.proxy
	t.mu.Unlock()

	go t.runFlow(f, p)

	select {
	case res := <-f.sent:
		if res.err != nil {
			f.abort()
			return domain.SentCode{}, mapError(op, res.err)
		}
		return res.code, nil
	case <-f.dead:
		return domain.SentCode{}, mapError(op, f.failure)
	case <-ctx.Done():
		f.abort()
		return domain.SentCode{}, mapError(op, ctx.Err())
	}
}

func (t *Transport) SignIn(ctx context.Context, creds domain.Credentials, phone, phoneCodeHash, code string) (domain.Authorization, error) {
	const op = "auth.signIn"

	t.mu.Lock()
	f := t.flow
	t.mu.Unlock()

	if f == nil {
		return domain.Authorization{}, domain.E(domain.KindExpiredCode, op, errors.New("no authorization in progress"))
	}
	if f.phone != phone || f.token != phoneCodeHash {
		return domain.Authorization{}, domain.E(domain.KindInvalidCode, op, errors.New("code was requested for another session"))
	}

	select {
	case <-f.authorized:
		return f.auth, nil
	case f.codes <- code:
	case <-f.dead:
		return domain.Authorization{}, mapError(op, f.failure)
	case <-ctx.Done():
		return domain.Authorization{}, mapError(op, ctx.Err())
	}

	select {
	case err := <-f.results:
		return domain.Authorization{}, mapError(op, err)
	case <-f.authorized:
		return f.auth, nil
	case <-f.dead:
		return domain.Authorization{}, mapError(op, f.failure)
	case <-ctx.Done():
		return domain.Authorization{}, mapError(op, ctx.Err())
	}
}

func (t *Transport) GetProfile(ctx context.Context, creds domain.Credentials) (domain.Profile, error) {
	const op = "users.getFullUser"

	t.mu.Lock()
	td := t.client
	t.mu.Unlock()
	if td == nil {
		return domain.Profile{}, domain.E(domain.KindUnauthenticated, op, errors.New("not authorized"))
	}

	me, err := call(ctx, td.GetMe)
	if err != nil {
		return domain.Profile{}, mapError(op, err)
	}
	return domain.Profile{
		UserID:    me.Id,
		Username:  username(me),
		FirstName: me.FirstName,
		LastName:  me.LastName,
	}, nil
}

func (t *Transport) LogOut(ctx context.Context) error {
	t.mu.Lock()
	td := t.client
	t.client = nil
	t.flow = nil
	t.mu.Unlock()

	if td == nil {
		return nil
	}
	if _, err := call(ctx, td.LogOut); err != nil {
		return mapError("auth.logOut", err)
	}
	t.log.Info("logged out")
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	td := t.client
	f := t.flow
	t.client = nil
	t.flow = nil
	t.mu.Unlock()

	if f != nil {
		f.abort()
	}
	if td != nil {
		td.Close()
	}
	return nil
}
