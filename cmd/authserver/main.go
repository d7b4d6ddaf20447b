package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/larriantoniy/tg_login_client/internal/authserver"
	"github.com/larriantoniy/tg_login_client/internal/config"
	"github.com/larriantoniy/tg_login_client/internal/logging"
)

const generatedCertValidity = 365 * 24 * time.Hour

func main() {
	var configPath, caOut string
	fs := pflag.NewFlagSet("authserver", pflag.ExitOnError)
	config.BindConfigFlag(fs, &configPath)
	fs.StringVar(&caOut, "ca-out", "", "write the generated certificate PEM here for clients (REMOTE_CA_FILE)")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(config.FetchConfigPath(configPath))
	if err != nil {
		panic(err)
	}

	logger := logging.Setup(cfg.Env)

	cert, err := loadCertificate(cfg.Server, caOut, logger)
	if err != nil {
		logger.Error("failed to prepare certificate", "error", err)
		os.Exit(1)
	}

	srvCfg := authserver.Config{
		Addr:         cfg.Server.Addr,
		CodeLength:   cfg.Server.CodeLength,
		CodeTTL:      cfg.Server.CodeTTL,
		CodeInterval: cfg.Server.CodeInterval,
		CodeBurst:    cfg.Server.CodeBurst,
		Certificate:  cert,
	}
	if cfg.ApiID != 0 {
		srvCfg.APIHashes = map[int32]string{cfg.ApiID: cfg.ApiHash}
	}

	// коды никуда не отправляются, только в лог
	sink := func(phone, code string) {
		logger.Info("login code issued", "phone", phone, "code", code)
	}
	srv := authserver.New(srvCfg, logger, authserver.WithCodeSink(sink))

	if err := srv.Listen(); err != nil {
		logger.Error("listen error", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		srv.Stop()
	}()

	if err := srv.Serve(); err != nil {
		logger.Error("serve error", "error", err)
		os.Exit(1)
	}
	srv.Stop()

	logger.Info("exit")
}

func loadCertificate(cfg config.ServerConfig, caOut string, log *slog.Logger) (tls.Certificate, error) {
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("load key pair: %w", err)
		}
		return cert, nil
	}

	certPEM, keyPEM, err := authserver.GenerateCertificate(cfg.Hosts, generatedCertValidity)
	if err != nil {
		return tls.Certificate{}, err
	}
	log.Warn("no certificate configured, generated a self-signed one", "hosts", cfg.Hosts)

	if caOut != "" {
		if err := os.MkdirAll(filepath.Dir(caOut), 0o755); err != nil {
			return tls.Certificate{}, err
		}
		if err := os.WriteFile(caOut, certPEM, 0o644); err != nil {
			return tls.Certificate{}, fmt.Errorf("write ca: %w", err)
		}
		log.Info("certificate written", "path", caOut)
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}
