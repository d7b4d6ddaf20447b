package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/larriantoniy/tg_login_client/internal/domain"
	"github.com/larriantoniy/tg_login_client/internal/wire"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Kind
	}{
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), domain.KindTimeout},
		{"canceled", context.Canceled, domain.KindNetwork},
		{"plain io", errors.New("connection reset"), domain.KindNetwork},
		{"bad phone", wire.BadRequest(wire.ErrPhoneNumberInvalid), domain.KindInvalidPhone},
		{"bad code", wire.BadRequest(wire.ErrPhoneCodeInvalid), domain.KindInvalidCode},
		{"empty code", wire.BadRequest(wire.ErrPhoneCodeEmpty), domain.KindInvalidCode},
		{"empty hash", wire.BadRequest(wire.ErrPhoneCodeHashEmpty), domain.KindInvalidCode},
		{"expired", wire.BadRequest(wire.ErrPhoneCodeExpired), domain.KindExpiredCode},
		{"flood wait", wire.FloodWait(30), domain.KindRateLimited},
		{"too many", &wire.RPCError{Code: wire.CodeTooMany, Message: "TOO_MANY"}, domain.KindRateLimited},
		{"unregistered", wire.Unauthorized(wire.ErrAuthKeyUnregistered), domain.KindUnauthenticated},
		{"other 401", wire.Unauthorized("SESSION_REVOKED"), domain.KindUnauthenticated},
		{"api id", wire.BadRequest(wire.ErrAPIIDInvalid), domain.KindInvalidInput},
		{"internal", wire.Internal(), domain.KindNetwork},
		{"already mapped", domain.E(domain.KindTransportUnavailable, "x", nil), domain.KindTransportUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.KindOf(mapError("op", tt.err)))
		})
	}

	assert.NoError(t, mapError("op", nil))
}
