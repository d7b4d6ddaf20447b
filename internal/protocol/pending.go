package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

// Method — имя операции протокола; по нему коррелируются ответы.
type Method string

const (
	MethodSendCode   Method = "auth.sendCode"
	MethodSignIn     Method = "auth.signIn"
	MethodGetProfile Method = "users.getFullUser"
	MethodLogOut     Method = "auth.logOut"
)

// pendingRequest is an in-flight call. At most one exists per method.
type pendingRequest struct {
	id      uint64
	method  Method
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	timer   *time.Timer
	// abort completes the request with a failure when the client shuts down.
	abort func(error)
}

// start registers a pending request for m and runs call on its own goroutine.
// complete runs on the client loop exactly once: with the transport result,
// with a timeout failure, or with an abort on Close. It reports false when a
// request for m is already in flight.
func start[T any](c *Client, m Method, call func(ctx context.Context) (T, error), complete func(T, error)) bool {
	if _, busy := c.pending[m]; busy {
		return false
	}

	c.seq++
	ctx, cancel := context.WithTimeout(c.ctx, c.requestTimeout)
	p := &pendingRequest{
		id:      c.seq,
		method:  m,
		started: c.now(),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.abort = func(err error) {
		var zero T
		complete(zero, err)
	}
	p.timer = time.AfterFunc(c.requestTimeout, func() {
		c.post(func() {
			if !c.finish(p) {
				return
			}
			c.log.Warn("request timed out", "method", m, "id", p.id, "timeout", c.requestTimeout)
			var zero T
			complete(zero, domain.E(domain.KindTimeout, string(m), fmt.Errorf("no reply after %s", c.requestTimeout)))
		})
	})
	c.pending[m] = p

	c.log.Debug("request sent", "method", m, "id", p.id)

	go func() {
		res, err := call(ctx)
		c.post(func() {
			if !c.finish(p) {
				c.log.Debug("late reply discarded", "method", m, "id", p.id)
				return
			}
			c.log.Debug("reply received", "method", m, "id", p.id, "elapsed", c.now().Sub(p.started))
			complete(res, err)
		})
	}()

	return true
}

// finish removes p if it is still the pending request for its method.
func (c *Client) finish(p *pendingRequest) bool {
	cur, ok := c.pending[p.method]
	if !ok || cur != p {
		return false
	}
	delete(c.pending, p.method)
	p.timer.Stop()
	p.cancel()
	return true
}

// abortPending fails every in-flight request; used when the loop stops.
func (c *Client) abortPending() {
	for _, p := range c.pending {
		if c.finish(p) {
			p.abort(domain.E(domain.KindNetwork, string(p.method), errClientClosed))
		}
	}
}

var errClientClosed = errors.New("client closed")

// classify turns any transport error into a *domain.Error of the right kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.E(domain.KindTimeout, op, err)
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return domain.E(domain.KindNetwork, op, errClientClosed)
	}
	return domain.E(domain.KindNetwork, op, err)
}
