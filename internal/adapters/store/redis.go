package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

// RedisStore keeps settings under <prefix>:credentials and <prefix>:proxy and
// announces proxy changes on <prefix>:proxy:changed, so several processes
// can share one proxy setting.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	log    *slog.Logger
}

func NewRedis(rdb *redis.Client, prefix string, log *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "tglogin"
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		log:    log.With("component", "store", "prefix", prefix),
	}
}

func (s *RedisStore) credentialsKey() string { return s.prefix + ":credentials" }
func (s *RedisStore) proxyKey() string       { return s.prefix + ":proxy" }
func (s *RedisStore) proxyChannel() string   { return s.prefix + ":proxy:changed" }

func (s *RedisStore) get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) Credentials(ctx context.Context) (domain.Credentials, error) {
	var c domain.Credentials
	if _, err := s.get(ctx, s.credentialsKey(), &c); err != nil {
		return domain.Credentials{}, err
	}
	return c, nil
}

func (s *RedisStore) SetCredentials(ctx context.Context, c domain.Credentials) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := s.rdb.Set(ctx, s.credentialsKey(), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.credentialsKey(), err)
	}
	return nil
}

func (s *RedisStore) Proxy(ctx context.Context) (domain.ProxyConfig, error) {
	p := domain.DefaultProxy()
	ok, err := s.get(ctx, s.proxyKey(), &p)
	if err != nil {
		return domain.ProxyConfig{}, err
	}
	if !ok {
		return domain.DefaultProxy(), nil
	}
	return p, nil
}

func (s *RedisStore) SetProxy(ctx context.Context, p domain.ProxyConfig) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proxy: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.proxyKey(), raw, 0)
		pipe.Publish(ctx, s.proxyChannel(), raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set proxy: %w", err)
	}
	s.log.Debug("proxy saved", "enabled", p.Enabled, "host", p.Host, "port", p.Port)
	return nil
}

// WatchProxy subscribes before returning, so no change published after the
// call is missed.
func (s *RedisStore) WatchProxy(ctx context.Context) (<-chan domain.ProxyConfig, error) {
	sub := s.rdb.Subscribe(ctx, s.proxyChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.proxyChannel(), err)
	}

	out := make(chan domain.ProxyConfig, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var p domain.ProxyConfig
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					s.log.Warn("bad proxy notification", "error", err)
					continue
				}
				deliverLatest(out, p)
			}
		}
	}()
	return out, nil
}
