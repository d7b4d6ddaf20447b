package logging

import (
	"io"
	"log/slog"
	"os"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

func Setup(env string) *slog.Logger {
	return New(os.Stdout, env)
}

// New builds the JSON logger for env: debug in dev, info otherwise.
func New(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo
	if env == EnvDev {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
