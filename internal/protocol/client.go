// Package protocol implements the login state machine on top of a ports.Transport.
//
// A Client is a single actor: every operation is queued onto one goroutine
// that owns the session, identity and pending requests, and every callback
// is invoked from that goroutine. Callers never block.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/larriantoniy/tg_login_client/internal/domain"
	"github.com/larriantoniy/tg_login_client/internal/ports"
)

const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultCodeWindow     = 60 * time.Second
	// DefaultCodeTTL is used when the server does not report how long a code lives.
	DefaultCodeTTL = 5 * time.Minute

	proxyApplyTimeout = 10 * time.Second
)

type Option func(*Client)

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithCodeWindow sets how long a repeated code request for the same phone
// reuses the existing session instead of asking the server again.
func WithCodeWindow(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.codeWindow = d
		}
	}
}

func WithCodeTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.codeTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

type Client struct {
	transport ports.Transport
	log       *slog.Logger

	requestTimeout time.Duration
	codeWindow     time.Duration
	codeTTL        time.Duration
	now            func() time.Time

	queue     *taskQueue
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	state atomic.Int32

	// owned by the loop goroutine
	session   *domain.Session
	identity  *domain.Authorization
	pending   map[Method]*pendingRequest
	seq       uint64
	secureErr error
}

var _ ports.ProtocolClient = (*Client)(nil)

// New validates the transport's secure channel and starts the client loop.
// A failed check is not fatal: the client is returned and every operation
// fails with transport-unavailable until a later check succeeds.
func New(transport ports.Transport, log *slog.Logger, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport:      transport,
		log:            log.With("component", "protocol"),
		requestTimeout: DefaultRequestTimeout,
		codeWindow:     DefaultCodeWindow,
		codeTTL:        DefaultCodeTTL,
		now:            time.Now,
		queue:          newTaskQueue(),
		ctx:            ctx,
		cancel:         cancel,
		stopped:        make(chan struct{}),
		pending:        make(map[Method]*pendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.secureErr = c.checkSecure()

	go c.loop()
	return c
}

func (c *Client) loop() {
	defer close(c.stopped)
	for {
		select {
		case <-c.ctx.Done():
			c.abortPending()
			// всё, что встало в очередь до Close, завершается ошибкой закрытия
			for _, fn := range c.queue.close() {
				fn()
			}
			return
		case <-c.queue.wake:
			for _, fn := range c.queue.drain() {
				fn()
			}
		}
	}
}

// Close stops the loop. In-flight and queued operations fail with a network
// error. It must not be called from a callback. Operations issued after
// Close fail the same way, with done invoked on the caller's goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		<-c.stopped
	})
}

func (c *Client) post(fn func()) bool {
	return c.queue.push(fn)
}

// Post runs fn on the client goroutine after everything queued before it.
// After Close fn is not run and the closed error is returned.
func (c *Client) Post(fn func()) error {
	if !c.post(fn) {
		return closedErr("post")
	}
	return nil
}

// Available reports transport-unavailable or closed the same way every
// operation would. It reads loop-owned state, so call it from a callback
// or a Post closure.
func (c *Client) Available() error {
	return c.precheck("transport")
}

func (c *Client) State() domain.AuthState {
	return domain.AuthState(c.state.Load())
}

func (c *Client) setState(s domain.AuthState) {
	prev := domain.AuthState(c.state.Swap(int32(s)))
	if prev != s {
		c.log.Info("auth state changed", "from", prev, "to", s)
	}
}

// reset drops the session and identity and returns to Unauthenticated.
func (c *Client) reset() {
	c.session = nil
	c.identity = nil
	c.setState(domain.StateUnauthenticated)
}

func (c *Client) checkSecure() error {
	if err := c.transport.CheckSecureChannel(); err != nil {
		c.log.Error("secure channel unavailable", "error", err)
		if domain.KindOf(err) == domain.KindTransportUnavailable {
			return err
		}
		return domain.E(domain.KindTransportUnavailable, "transport", err)
	}
	return nil
}

// precheck runs before any state inspection so that an unavailable
// transport makes every operation fail the same way.
func (c *Client) precheck(op string) error {
	if c.closed.Load() {
		return closedErr(op)
	}
	if c.secureErr != nil {
		return domain.E(domain.KindTransportUnavailable, op, c.secureErr)
	}
	return nil
}

func closedErr(op string) error {
	return domain.E(domain.KindNetwork, op, errClientClosed)
}

func busy(m Method) error {
	return domain.E(domain.KindBusy, string(m), fmt.Errorf("request already in flight"))
}

// RequestCode asks the service to send a login code to phone.
func (c *Client) RequestCode(creds domain.Credentials, phone string, done func(domain.Session, error)) {
	if !c.post(func() { c.requestCode(creds, phone, done) }) {
		done(domain.Session{}, closedErr(string(MethodSendCode)))
	}
}

func (c *Client) requestCode(creds domain.Credentials, phone string, done func(domain.Session, error)) {
	const op = string(MethodSendCode)

	if err := c.precheck(op); err != nil {
		done(domain.Session{}, err)
		return
	}
	if err := creds.Validate(); err != nil {
		done(domain.Session{}, err)
		return
	}
	phone = domain.NormalizePhone(phone)
	if err := domain.ValidatePhone(phone); err != nil {
		done(domain.Session{}, err)
		return
	}
	if c.State() == domain.StateAuthenticated {
		done(domain.Session{}, domain.E(domain.KindInvalidState, op, errors.New("already signed in")))
		return
	}
	if _, signing := c.pending[MethodSignIn]; signing {
		done(domain.Session{}, busy(MethodSignIn))
		return
	}

	now := c.now()
	if s := c.session; s != nil && s.PhoneNumber == phone && !s.Expired(now) && now.Sub(s.IssuedAt) < c.codeWindow {
		c.log.Debug("code already requested, reusing session", "phone", phone, "issued_at", s.IssuedAt)
		done(*s, nil)
		return
	}

	ok := start(c, MethodSendCode,
		func(ctx context.Context) (domain.SentCode, error) {
			return c.transport.SendCode(ctx, creds, phone)
		},
		func(sent domain.SentCode, err error) {
			if err != nil {
				err = classify(op, err)
				c.log.Warn("code request failed", "phone", phone, "error", err)
				done(domain.Session{}, err)
				return
			}
			if sent.PhoneCodeHash == "" {
				done(domain.Session{}, domain.E(domain.KindNetwork, op, errors.New("empty phone_code_hash in reply")))
				return
			}

			issued := c.now()
			ttl := sent.Timeout
			if ttl <= 0 {
				ttl = c.codeTTL
			}
			s := &domain.Session{
				PhoneNumber:   phone,
				PhoneCodeHash: sent.PhoneCodeHash,
				CodeLength:    sent.CodeLength,
				IssuedAt:      issued,
				ExpiresAt:     issued.Add(ttl),
			}
			c.session = s
			c.identity = nil
			c.setState(domain.StateCodeRequested)
			c.log.Info("code requested", "phone", phone, "expires_at", s.ExpiresAt)
			done(*s, nil)
		},
	)
	if !ok {
		done(domain.Session{}, busy(MethodSendCode))
	}
}

// SignIn completes the login with the code delivered out of band.
func (c *Client) SignIn(creds domain.Credentials, phone, phoneCodeHash, code string, done func(domain.Authorization, error)) {
	if !c.post(func() { c.signIn(creds, phone, phoneCodeHash, code, done) }) {
		done(domain.Authorization{}, closedErr(string(MethodSignIn)))
	}
}

func (c *Client) signIn(creds domain.Credentials, phone, phoneCodeHash, code string, done func(domain.Authorization, error)) {
	const op = string(MethodSignIn)

	if err := c.precheck(op); err != nil {
		done(domain.Authorization{}, err)
		return
	}
	if err := creds.Validate(); err != nil {
		done(domain.Authorization{}, err)
		return
	}
	phone = domain.NormalizePhone(phone)
	if err := domain.ValidatePhone(phone); err != nil {
		done(domain.Authorization{}, err)
		return
	}
	if err := domain.ValidateCode(code); err != nil {
		done(domain.Authorization{}, err)
		return
	}
	if c.State() == domain.StateAuthenticated {
		done(domain.Authorization{}, domain.E(domain.KindInvalidState, op, errors.New("already signed in")))
		return
	}
	if _, requesting := c.pending[MethodSendCode]; requesting {
		done(domain.Authorization{}, busy(MethodSendCode))
		return
	}
	if c.session == nil {
		done(domain.Authorization{}, domain.E(domain.KindInvalidCode, op, errors.New("no code was requested")))
		return
	}
	if !c.session.Matches(phone, phoneCodeHash) {
		// hash выдан для другого номера (или это чужой hash) — в сеть не идём
		done(domain.Authorization{}, domain.E(domain.KindInvalidCode, op, errors.New("phone_code_hash was not issued for this phone")))
		return
	}
	if c.session.Expired(c.now()) {
		c.reset()
		done(domain.Authorization{}, domain.E(domain.KindExpiredCode, op, errors.New("code expired")))
		return
	}

	ok := start(c, MethodSignIn,
		func(ctx context.Context) (domain.Authorization, error) {
			return c.transport.SignIn(ctx, creds, phone, phoneCodeHash, code)
		},
		func(auth domain.Authorization, err error) {
			if err != nil {
				err = classify(op, err)
				switch domain.KindOf(err) {
				case domain.KindExpiredCode, domain.KindTimeout, domain.KindUnauthenticated:
					// код больше не годится, либо неизвестно, дошёл ли запрос
					c.reset()
				}
				c.log.Warn("sign in failed", "phone", phone, "error", err, "state", c.State())
				done(domain.Authorization{}, err)
				return
			}

			c.session = nil
			c.identity = &auth
			c.setState(domain.StateAuthenticated)
			c.log.Info("signed in", "phone", phone, "user_id", auth.UserID)
			done(auth, nil)
		},
	)
	if !ok {
		done(domain.Authorization{}, busy(MethodSignIn))
	}
}

// FetchProfile returns the signed-in user's profile.
func (c *Client) FetchProfile(creds domain.Credentials, done func(domain.Profile, error)) {
	if !c.post(func() { c.fetchProfile(creds, done) }) {
		done(domain.Profile{}, closedErr(string(MethodGetProfile)))
	}
}

func (c *Client) fetchProfile(creds domain.Credentials, done func(domain.Profile, error)) {
	const op = string(MethodGetProfile)

	if err := c.precheck(op); err != nil {
		done(domain.Profile{}, err)
		return
	}
	if c.State() != domain.StateAuthenticated {
		done(domain.Profile{}, domain.E(domain.KindUnauthenticated, op, errors.New("sign in first")))
		return
	}
	if err := creds.Validate(); err != nil {
		done(domain.Profile{}, err)
		return
	}

	ok := start(c, MethodGetProfile,
		func(ctx context.Context) (domain.Profile, error) {
			return c.transport.GetProfile(ctx, creds)
		},
		func(p domain.Profile, err error) {
			if err != nil {
				err = classify(op, err)
				if domain.KindOf(err) == domain.KindUnauthenticated {
					c.reset()
				}
				c.log.Warn("fetch profile failed", "error", err)
				done(domain.Profile{}, err)
				return
			}
			done(p, nil)
		},
	)
	if !ok {
		done(domain.Profile{}, busy(MethodGetProfile))
	}
}

// LogOut invalidates the authorization on the server and locally.
func (c *Client) LogOut(done func(error)) {
	if !c.post(func() { c.logOut(done) }) {
		done(closedErr(string(MethodLogOut)))
	}
}

func (c *Client) logOut(done func(error)) {
	const op = string(MethodLogOut)

	if err := c.precheck(op); err != nil {
		done(err)
		return
	}
	if c.State() != domain.StateAuthenticated {
		done(domain.E(domain.KindUnauthenticated, op, errors.New("not signed in")))
		return
	}

	ok := start(c, MethodLogOut,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.transport.LogOut(ctx)
		},
		func(_ struct{}, err error) {
			err = classify(op, err)
			if err == nil || domain.KindOf(err) == domain.KindUnauthenticated {
				c.reset()
				c.log.Info("logged out")
				done(nil)
				return
			}
			c.log.Warn("log out failed", "error", err)
			done(err)
		},
	)
	if !ok {
		done(busy(MethodLogOut))
	}
}

// ApplyProxy hands the proxy config to the transport before any operation
// queued after it, then re-validates the secure channel. done may be nil.
func (c *Client) ApplyProxy(proxy domain.ProxyConfig, done func(error)) {
	ok := c.post(func() {
		err := c.applyProxy(proxy)
		if done != nil {
			done(err)
		}
	})
	if !ok && done != nil {
		done(closedErr("proxy"))
	}
}

func (c *Client) applyProxy(proxy domain.ProxyConfig) error {
	if c.closed.Load() {
		return closedErr("proxy")
	}
	if err := proxy.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.ctx, proxyApplyTimeout)
	defer cancel()

	err := c.transport.ApplyProxy(ctx, proxy)
	c.secureErr = c.checkSecure()
	if err != nil {
		c.log.Error("apply proxy failed", "enabled", proxy.Enabled, "host", proxy.Host, "error", err)
		return classify("proxy", err)
	}

	if proxy.Active() {
		c.log.Info("proxy applied", "addr", proxy.Addr())
	} else {
		c.log.Info("proxy disabled, direct connections")
	}
	return nil
}
