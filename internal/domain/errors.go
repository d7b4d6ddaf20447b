package domain

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку протокола; презентационный слой реагирует на Kind, а не на текст.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransportUnavailable
	KindNetwork
	KindTimeout
	KindInvalidInput
	KindInvalidPhone
	KindInvalidCode
	KindExpiredCode
	KindUnauthenticated
	KindRateLimited
	KindBusy
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindTransportUnavailable:
		return "transport-unavailable"
	case KindNetwork:
		return "network-error"
	case KindTimeout:
		return "network-timeout"
	case KindInvalidInput:
		return "invalid-input"
	case KindInvalidPhone:
		return "invalid-phone"
	case KindInvalidCode:
		return "invalid-code"
	case KindExpiredCode:
		return "expired-code"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRateLimited:
		return "rate-limited"
	case KindBusy:
		return "busy"
	case KindInvalidState:
		return "invalid-state"
	default:
		return "unknown"
	}
}

// Error is the typed failure every operation reports.
// Op names the operation (e.g. "auth.sendCode"), Err carries the cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
// A timeout is also a network error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindNetwork && e.Kind == KindTimeout
}

var (
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
	ErrNetwork              = &Error{Kind: KindNetwork}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrInvalidPhone         = &Error{Kind: KindInvalidPhone}
	ErrInvalidCode          = &Error{Kind: KindInvalidCode}
	ErrExpiredCode          = &Error{Kind: KindExpiredCode}
	ErrUnauthenticated      = &Error{Kind: KindUnauthenticated}
	ErrRateLimited          = &Error{Kind: KindRateLimited}
	ErrBusy                 = &Error{Kind: KindBusy}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
)

// E builds an *Error. cause may be nil.
func E(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
