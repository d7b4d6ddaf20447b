package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/larriantoniy/tg_login_client/internal/adapters/remote"
	"github.com/larriantoniy/tg_login_client/internal/adapters/store"
	"github.com/larriantoniy/tg_login_client/internal/adapters/tg"
	"github.com/larriantoniy/tg_login_client/internal/config"
	"github.com/larriantoniy/tg_login_client/internal/domain"
	"github.com/larriantoniy/tg_login_client/internal/logging"
	"github.com/larriantoniy/tg_login_client/internal/ports"
	"github.com/larriantoniy/tg_login_client/internal/protocol"
	"github.com/larriantoniy/tg_login_client/internal/useCases"
)

type flags struct {
	configPath string
	phone      string
	proxy      string
	proxyUser  string
	proxyPass  string
	noProxy    bool
}

func main() {
	var f flags
	fs := pflag.NewFlagSet("authclient", pflag.ExitOnError)
	config.BindConfigFlag(fs, &f.configPath)
	fs.StringVarP(&f.phone, "phone", "p", "", "phone number to sign in with (default: stored one)")
	fs.StringVar(&f.proxy, "proxy", "", "SOCKS5 proxy host:port to enable")
	fs.StringVar(&f.proxyUser, "proxy-user", "", "SOCKS5 username")
	fs.StringVar(&f.proxyPass, "proxy-pass", "", "SOCKS5 password")
	fs.BoolVar(&f.noProxy, "no-proxy", false, "disable the stored proxy")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(config.FetchConfigPath(f.configPath))
	if err != nil {
		panic(err)
	}

	logger := logging.Setup(cfg.Env)

	if err := run(cfg, f, logger); err != nil {
		logger.Error("authclient failed", "kind", domain.KindOf(err).String(), "error", err)
		os.Exit(1)
	}

	logger.Info("exit")
}

// run owns every resource, so deferred closes happen on the error path too.
func run(cfg *config.AppConfig, f flags, logger *slog.Logger) error {
	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer closeStore()

	transport := newTransport(cfg, logger)
	defer func() { _ = transport.Close() }()

	client := protocol.New(transport, logger,
		protocol.WithRequestTimeout(cfg.Client.RequestTimeout),
		protocol.WithCodeWindow(cfg.Client.CodeWindow),
		protocol.WithCodeTTL(cfg.Client.CodeTTL),
	)
	facade := useCases.NewFacade(client, st, logger, useCases.WithSeedCredentials(cfg.Credentials()))
	defer facade.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			logger.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Start синхронно, чтобы прокси и учётки были на месте до первого запроса
	if err := facade.Start(ctx); err != nil {
		return fmt.Errorf("facade start: %w", err)
	}
	go func() {
		if err := facade.Run(ctx); err != nil {
			logger.Error("facade watcher stopped", "error", err)
		}
	}()

	if err := applyProxyFlags(ctx, facade, f); err != nil {
		return fmt.Errorf("proxy flags: %w", err)
	}

	if err := login(ctx, facade, f.phone, os.Stdin); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func openStore(cfg *config.AppConfig, log *slog.Logger) (ports.CredentialStore, func(), error) {
	if cfg.Redis.Addr == "" {
		st, err := store.OpenFile(cfg.SettingsPath, log)
		return st, func() {}, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	return store.NewRedis(rdb, cfg.Redis.Prefix, log), func() { _ = rdb.Close() }, nil
}

func newTransport(cfg *config.AppConfig, log *slog.Logger) ports.Transport {
	if cfg.Backend == config.BackendTDLib {
		return tg.New(tg.Config{BaseDir: cfg.TDLib.BaseDir, Verbosity: cfg.TDLib.Verbosity}, log)
	}
	return remote.New(remote.Config{
		Addr:        cfg.Remote.Addr,
		ServerName:  cfg.Remote.ServerName,
		CAFile:      cfg.Remote.CAFile,
		DialTimeout: cfg.Remote.DialTimeout,
		MaxRetries:  cfg.Remote.MaxRetries,
		RetryBase:   cfg.Remote.RetryBase,

		ProbeConnectivity: cfg.Remote.ProbeConnectivity,
	}, log)
}

func applyProxyFlags(ctx context.Context, facade *useCases.Facade, f flags) error {
	switch {
	case f.noProxy:
		p, err := facade.Proxy(ctx)
		if err != nil {
			return err
		}
		p.Enabled = false
		return facade.SetProxy(ctx, p)
	case f.proxy != "":
		host, portStr, err := net.SplitHostPort(f.proxy)
		if err != nil {
			return fmt.Errorf("--proxy: %w", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("--proxy port: %w", err)
		}
		return facade.SetProxy(ctx, domain.ProxyConfig{
			Enabled:  true,
			Host:     host,
			Port:     port,
			Username: f.proxyUser,
			Password: f.proxyPass,
		})
	}
	return nil
}

type reply[T any] struct {
	v   T
	err error
}

// wait blocks until the callback fires or ctx is done.
func wait[T any](ctx context.Context, issue func(done func(T, error))) (T, error) {
	ch := make(chan reply[T], 1)
	issue(func(v T, err error) { ch <- reply[T]{v, err} })
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func prompt(in *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func login(ctx context.Context, facade *useCases.Facade, phone string, stdin *os.File) error {
	in := bufio.NewReader(stdin)

	creds, err := facade.Credentials(ctx)
	if err != nil {
		return err
	}
	if creds.APIID == 0 || creds.APIHash == "" {
		return domain.E(domain.KindInvalidInput, "credentials", errors.New("set TELEGRAM_API_ID and TELEGRAM_API_HASH"))
	}
	if phone == "" && creds.PhoneNumber == "" {
		if phone, err = prompt(in, "Phone: "); err != nil {
			return err
		}
	}

	session, err := wait(ctx, func(done func(domain.Session, error)) {
		facade.RequestCode(ctx, phone, done)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Code sent to %s (expires %s)\n", session.PhoneNumber, session.ExpiresAt.Format("15:04:05"))

	var auth domain.Authorization
	for {
		code, err := prompt(in, "Code: ")
		if err != nil {
			return err
		}
		auth, err = wait(ctx, func(done func(domain.Authorization, error)) {
			facade.SignIn(ctx, code, done)
		})
		if err == nil {
			break
		}
		// неверный код можно ввести ещё раз, остальное фатально
		if !errors.Is(err, domain.ErrInvalidCode) {
			return err
		}
		fmt.Println("Wrong code, try again.")
	}
	fmt.Printf("Signed in as user %d\n", auth.UserID)

	profile, err := wait(ctx, func(done func(domain.Profile, error)) {
		facade.FetchProfile(ctx, done)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Profile: @%s %s %s (id %d)\n", profile.Username, profile.FirstName, profile.LastName, profile.UserID)
	return nil
}
