package store

import (
	"context"
	"sync"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

// proxyHub fans proxy changes out to watchers. A slow watcher only ever sees
// the latest value.
type proxyHub struct {
	mu   sync.Mutex
	subs map[chan domain.ProxyConfig]struct{}
}

func newProxyHub() *proxyHub {
	return &proxyHub{subs: make(map[chan domain.ProxyConfig]struct{})}
}

func (h *proxyHub) subscribe(ctx context.Context) <-chan domain.ProxyConfig {
	ch := make(chan domain.ProxyConfig, 1)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *proxyHub) publish(p domain.ProxyConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		deliverLatest(ch, p)
	}
}

func deliverLatest(ch chan domain.ProxyConfig, p domain.ProxyConfig) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}
