package tg

import (
	"context"
	"errors"
	"strings"

	"github.com/zelenin/go-tdlib/client"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

var ErrRateLimited = errors.New("tdlib: too many requests")

func isTooManyRequests(err error) bool {
	// TDLib оборачивается в client.Error
	var tdErr *client.Error
	if errors.As(err, &tdErr) {
		if tdErr.Code == 429 {
			return true
		}
		msg := strings.ToLower(tdErr.Message)
		if strings.Contains(msg, "too many requests") || strings.HasPrefix(msg, "flood_wait") {
			return true
		}
	}
	return false
}

func tdMessage(err error) (int32, string) {
	var tdErr *client.Error
	if errors.As(err, &tdErr) {
		return tdErr.Code, tdErr.Message
	}
	return 0, ""
}

func isWrongCode(err error) bool {
	_, msg := tdMessage(err)
	return strings.Contains(msg, "PHONE_CODE_INVALID") || strings.Contains(msg, "PHONE_CODE_EMPTY")
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.E(domain.KindTimeout, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, errFlowAborted):
		return domain.E(domain.KindNetwork, op, err)
	}

	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}

	if isTooManyRequests(err) {
		return domain.E(domain.KindRateLimited, op, errors.Join(ErrRateLimited, err))
	}

	code, msg := tdMessage(err)
	switch {
	case strings.Contains(msg, "PHONE_NUMBER_INVALID"), strings.Contains(msg, "PHONE_NUMBER_BANNED"):
		return domain.E(domain.KindInvalidPhone, op, err)
	case isWrongCode(err):
		return domain.E(domain.KindInvalidCode, op, err)
	case strings.Contains(msg, "PHONE_CODE_EXPIRED"):
		return domain.E(domain.KindExpiredCode, op, err)
	case strings.Contains(msg, "API_ID_INVALID"):
		return domain.E(domain.KindInvalidInput, op, err)
	case code == 401, strings.Contains(msg, "Unauthorized"):
		return domain.E(domain.KindUnauthenticated, op, err)
	}
	return domain.E(domain.KindNetwork, op, err)
}
