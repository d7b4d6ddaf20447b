// Package authserver is a development login server speaking tgwire. It
// auto-provisions accounts and hands out codes through a CodeSink instead of
// SMS, which makes it usable in tests and local runs.
package authserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/larriantoniy/tg_login_client/internal/wire"
)

const (
	DefaultCodeLength       = 5
	DefaultCodeTTL          = 5 * time.Minute
	DefaultCodeInterval     = 30 * time.Second
	DefaultCodeBurst        = 3
	DefaultHandshakeTimeout = 10 * time.Second
)

type Config struct {
	Addr         string
	CodeLength   int
	CodeTTL      time.Duration
	CodeInterval time.Duration
	CodeBurst    int
	// APIHashes restricts accepted api_id values; empty accepts any pair.
	APIHashes        map[int32]string
	HandshakeTimeout time.Duration
	Certificate      tls.Certificate
}

func (c Config) withDefaults() Config {
	if c.CodeLength <= 0 {
		c.CodeLength = DefaultCodeLength
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.CodeInterval <= 0 {
		c.CodeInterval = DefaultCodeInterval
	}
	if c.CodeBurst <= 0 {
		c.CodeBurst = DefaultCodeBurst
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

// CodeSink receives every issued login code.
type CodeSink func(phone, code string)

type Option func(*Server)

func WithCodeSink(sink CodeSink) Option {
	return func(s *Server) { s.sink = sink }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

type Server struct {
	cfg  Config
	log  *slog.Logger
	reg  *registry
	sink CodeSink
	now  func() time.Time

	listener  net.Listener
	sessionID atomic.Uint64

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, log *slog.Logger, opts ...Option) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:   cfg,
		log:   log.With("component", "authserver"),
		reg:   newRegistry(cfg),
		now:   time.Now,
		conns: make(map[net.Conn]struct{}),
		quit:  make(chan struct{}),
	}
	s.sink = func(phone, code string) {
		s.log.Info("login code issued", "phone", phone, "code", code)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the TLS listener; Serve then accepts on it.
func (s *Server) Listen() error {
	if len(s.cfg.Certificate.Certificate) == 0 {
		return errors.New("authserver: no certificate configured")
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{s.cfg.Certificate},
		MinVersion:   tls.VersionTLS12,
	}
	ln, err := tls.Listen("tcp", s.cfg.Addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to start auth server: %w", err)
	}
	s.listener = ln
	s.log.Info("auth server started", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("failed to accept connection", "error", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Start is Listen followed by Serve.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			_ = s.listener.Close()
		}

		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
}

func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// session is the per-connection login state.
type session struct {
	apiID int32
	token string
	user  wire.User
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	log := s.log.With("remote", conn.RemoteAddr().String())

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
	sc, hello, err := wire.ServerHandshake(ctx, conn, s.sessionID.Add(1))
	cancel()
	if err != nil {
		log.Warn("handshake failed", "error", err)
		return
	}
	log = log.With("session_id", sc.SessionID())
	log.Debug("session opened", "api_id", hello.APIID)

	sess := &session{apiID: hello.APIID}
	for {
		req, err := sc.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("session closed", "error", err)
			}
			return
		}

		reply := s.dispatch(sess, req)
		if err := sc.Send(reply); err != nil {
			log.Warn("failed to send reply", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(sess *session, req *wire.Envelope) *wire.Envelope {
	var (
		body   any
		rpcErr *wire.RPCError
	)

	switch req.Method {
	case wire.MethodSendCode:
		var in wire.SendCodeRequest
		if err := req.Decode(&in); err != nil {
			rpcErr = wire.BadRequest(wire.ErrInputInvalid)
			break
		}
		body, rpcErr = s.sendCode(in)
	case wire.MethodSignIn:
		var in wire.SignInRequest
		if err := req.Decode(&in); err != nil {
			rpcErr = wire.BadRequest(wire.ErrInputInvalid)
			break
		}
		body, rpcErr = s.signIn(sess, in)
	case wire.MethodImportAuthorization:
		var in wire.ImportAuthorizationRequest
		if err := req.Decode(&in); err != nil {
			rpcErr = wire.BadRequest(wire.ErrInputInvalid)
			break
		}
		body, rpcErr = s.importAuthorization(sess, in)
	case wire.MethodGetFullUser:
		body, rpcErr = s.getFullUser(sess)
	case wire.MethodLogOut:
		body, rpcErr = s.logOut(sess)
	default:
		rpcErr = wire.BadRequest(wire.ErrMethodInvalid)
	}

	if rpcErr != nil {
		s.log.Debug("request rejected", "method", req.Method, "error", rpcErr)
		return wire.NewErrorReply(req, rpcErr)
	}
	reply, err := wire.NewReply(req, body)
	if err != nil {
		s.log.Error("failed to encode reply", "method", req.Method, "error", err)
		return wire.NewErrorReply(req, wire.Internal())
	}
	return reply
}
