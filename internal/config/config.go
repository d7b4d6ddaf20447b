package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/pflag"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

const (
	BackendWire  = "wire"
	BackendTDLib = "tdlib"
)

type AppConfig struct {
	Env          string `yaml:"env" env:"ENV" env-default:"prod"`
	Backend      string `yaml:"backend" env:"BACKEND" env-default:"wire"`
	SettingsPath string `yaml:"settings_path" env:"SETTINGS_PATH" env-default:"./settings.json"`

	// TELEGRAM_API_ID / TELEGRAM_API_HASH засевают хранилище, если там пусто
	ApiID   int32  `yaml:"api_id" env:"TELEGRAM_API_ID"`
	ApiHash string `yaml:"api_hash" env:"TELEGRAM_API_HASH"`

	Client ClientConfig `yaml:"client" env-prefix:"CLIENT_"`
	Remote RemoteConfig `yaml:"remote" env-prefix:"REMOTE_"`
	TDLib  TDLibConfig  `yaml:"tdlib" env-prefix:"TDLIB_"`
	Redis  RedisConfig  `yaml:"redis" env-prefix:"REDIS_"`
	Server ServerConfig `yaml:"server" env-prefix:"AUTHSERVER_"`
}

type ClientConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"15s"`
	CodeWindow     time.Duration `yaml:"code_window" env:"CODE_WINDOW" env-default:"60s"`
	CodeTTL        time.Duration `yaml:"code_ttl" env:"CODE_TTL" env-default:"5m"`
}

type RemoteConfig struct {
	Addr        string        `yaml:"addr" env:"ADDR" env-default:"127.0.0.1:8443"`
	ServerName  string        `yaml:"server_name" env:"SERVER_NAME"`
	CAFile      string        `yaml:"ca_file" env:"CA_FILE"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT" env-default:"10s"`
	MaxRetries  uint64        `yaml:"max_retries" env:"MAX_RETRIES" env-default:"3"`
	RetryBase   time.Duration `yaml:"retry_base" env:"RETRY_BASE" env-default:"200ms"`

	// ProbeConnectivity включает проверку IPv4/IPv6 перед первым подключением
	ProbeConnectivity bool `yaml:"probe_connectivity" env:"PROBE_CONNECTIVITY" env-default:"true"`
}

type TDLibConfig struct {
	BaseDir   string `yaml:"base_dir" env:"BASE_DIR" env-default:"./tdlib-sessions"`
	Verbosity int32  `yaml:"verbosity" env:"VERBOSITY" env-default:"1"`
}

// RedisConfig switches the settings store to Redis when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"PREFIX" env-default:"tglogin"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR" env-default:":8443"`
	CertFile     string        `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile      string        `yaml:"key_file" env:"KEY_FILE"`
	Hosts        []string      `yaml:"hosts" env:"HOSTS" env-separator:"," env-default:"127.0.0.1,localhost"`
	CodeLength   int           `yaml:"code_length" env:"CODE_LENGTH" env-default:"5"`
	CodeTTL      time.Duration `yaml:"code_ttl" env:"CODE_TTL" env-default:"5m"`
	CodeInterval time.Duration `yaml:"code_interval" env:"CODE_INTERVAL" env-default:"30s"`
	CodeBurst    int           `yaml:"code_burst" env:"CODE_BURST" env-default:"3"`
}

// Load читает конфиг из файла (если путь задан) и переменных окружения.
// Переменные окружения перекрывают файл.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("ошибка загрузки конфига %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка чтения окружения: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Backend {
	case BackendWire, BackendTDLib:
	default:
		return fmt.Errorf("unknown backend %q, want %q or %q", c.Backend, BackendWire, BackendTDLib)
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client.request_timeout must be positive")
	}
	if c.ApiID < 0 {
		return fmt.Errorf("invalid TELEGRAM_API_ID: %d", c.ApiID)
	}
	return nil
}

// Credentials returns the API pair from config; the phone lives in the store.
func (c *AppConfig) Credentials() domain.Credentials {
	return domain.Credentials{APIID: c.ApiID, APIHash: c.ApiHash}
}

// BindConfigFlag registers --config/-c on flagSet.
func BindConfigFlag(flagSet *pflag.FlagSet, path *string) {
	flagSet.StringVarP(path, "config", "c", "", "path to config file (default: $CONFIG_PATH)")
}

// FetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func FetchConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CONFIG_PATH")
}
