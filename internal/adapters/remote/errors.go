package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/larriantoniy/tg_login_client/internal/domain"
	"github.com/larriantoniy/tg_login_client/internal/wire"
)

// mapError turns transport and server failures into domain errors.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.E(domain.KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return domain.E(domain.KindNetwork, op, err)
	}

	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}

	var rpcErr *wire.RPCError
	if !errors.As(err, &rpcErr) {
		return domain.E(domain.KindNetwork, op, err)
	}

	if seconds, ok := rpcErr.IsFlood(); ok {
		return domain.E(domain.KindRateLimited, op, fmt.Errorf("retry after %ds: %w", seconds, rpcErr))
	}

	switch rpcErr.Message {
	case wire.ErrPhoneNumberInvalid:
		return domain.E(domain.KindInvalidPhone, op, rpcErr)
	case wire.ErrPhoneCodeInvalid, wire.ErrPhoneCodeEmpty, wire.ErrPhoneCodeHashEmpty:
		return domain.E(domain.KindInvalidCode, op, rpcErr)
	case wire.ErrPhoneCodeExpired:
		return domain.E(domain.KindExpiredCode, op, rpcErr)
	case wire.ErrAuthKeyUnregistered:
		return domain.E(domain.KindUnauthenticated, op, rpcErr)
	case wire.ErrAPIIDInvalid, wire.ErrInputInvalid:
		return domain.E(domain.KindInvalidInput, op, rpcErr)
	}

	if rpcErr.Code == wire.CodeUnauthorized {
		return domain.E(domain.KindUnauthenticated, op, rpcErr)
	}
	return domain.E(domain.KindNetwork, op, rpcErr)
}

func isRPCError(err error) bool {
	var rpcErr *wire.RPCError
	return errors.As(err, &rpcErr)
}
