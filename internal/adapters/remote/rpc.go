package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/larriantoniy/tg_login_client/internal/wire"
)

var errConnClosed = errors.New("connection closed")

// rpcConn correlates replies to requests by envelope id. One goroutine reads;
// any number of callers may be waiting.
type rpcConn struct {
	sc  *wire.SecureConn
	log *slog.Logger

	mu      sync.Mutex
	pending map[uint64]chan *wire.Envelope
	nextID  uint64

	closed    chan struct{}
	closeErr  error
	closeOnce sync.Once
}

func newRPCConn(sc *wire.SecureConn, log *slog.Logger) *rpcConn {
	c := &rpcConn{
		sc:      sc,
		log:     log,
		pending: make(map[uint64]chan *wire.Envelope),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *rpcConn) readLoop() {
	for {
		env, err := c.sc.Recv()
		if err != nil {
			c.close(fmt.Errorf("read: %w", err))
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()

		if !ok {
			c.log.Warn("reply for unknown request", "id", env.ID)
			continue
		}
		ch <- env
	}
}

func (c *rpcConn) close(reason error) {
	c.closeOnce.Do(func() {
		c.closeErr = reason
		close(c.closed)
		_ = c.sc.Close()
	})
}

func (c *rpcConn) alive() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

func (c *rpcConn) err() error {
	if c.closeErr == nil {
		return errConnClosed
	}
	return fmt.Errorf("%w: %w", errConnClosed, c.closeErr)
}

// call sends req and decodes the reply into resp. A server-side failure is
// returned as *wire.RPCError; anything else means the connection is unusable.
func (c *rpcConn) call(ctx context.Context, method string, req, resp any) error {
	if !c.alive() {
		return c.err()
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan *wire.Envelope, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	env, err := wire.NewRequest(id, method, req)
	if err != nil {
		return err
	}
	if err := c.sc.Send(env); err != nil {
		c.close(err)
		return c.err()
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return reply.Error
		}
		return reply.Decode(resp)
	case <-c.closed:
		return c.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
