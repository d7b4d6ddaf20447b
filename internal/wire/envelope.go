package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Envelope is the unit exchanged after the handshake. A reply carries the
// id of its request and either Body or Error.
type Envelope struct {
	ID     uint64     `cbor:"id"`
	Method string     `cbor:"method,omitempty"`
	Body   RawMessage `cbor:"body,omitempty"`
	Error  *RPCError  `cbor:"error,omitempty"`
}

// NewRequest encodes body as the payload of a call to method.
func NewRequest(id uint64, method string, body any) (*Envelope, error) {
	raw, err := Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", method, err)
	}
	return &Envelope{ID: id, Method: method, Body: raw}, nil
}

// NewReply encodes body as the successful reply to req.
func NewReply(req *Envelope, body any) (*Envelope, error) {
	raw, err := Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s reply: %w", req.Method, err)
	}
	return &Envelope{ID: req.ID, Body: raw}, nil
}

// NewErrorReply answers req with err.
func NewErrorReply(req *Envelope, err *RPCError) *Envelope {
	return &Envelope{ID: req.ID, Error: err}
}

// Decode unpacks Body into v. An empty body leaves v untouched.
func (e *Envelope) Decode(v any) error {
	if len(e.Body) == 0 {
		return nil
	}
	if err := Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("wire: decode %s body: %w", e.Method, err)
	}
	return nil
}

// RPCError — ошибка, которую вернул сервер. Message — имя в стиле Telegram (PHONE_CODE_INVALID).
type RPCError struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

const (
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeFlood        = 420
	CodeTooMany      = 429
	CodeInternal     = 500
)

const (
	ErrPhoneNumberInvalid  = "PHONE_NUMBER_INVALID"
	ErrPhoneCodeInvalid    = "PHONE_CODE_INVALID"
	ErrPhoneCodeEmpty      = "PHONE_CODE_EMPTY"
	ErrPhoneCodeExpired    = "PHONE_CODE_EXPIRED"
	ErrPhoneCodeHashEmpty  = "PHONE_CODE_HASH_EMPTY"
	ErrAuthKeyUnregistered = "AUTH_KEY_UNREGISTERED"
	ErrAPIIDInvalid        = "API_ID_INVALID"
	ErrMethodInvalid       = "METHOD_INVALID"
	ErrInputInvalid        = "INPUT_REQUEST_INVALID"
	ErrInternal            = "INTERNAL"

	floodWaitPrefix = "FLOOD_WAIT_"
)

func BadRequest(msg string) *RPCError   { return &RPCError{Code: CodeBadRequest, Message: msg} }
func Unauthorized(msg string) *RPCError { return &RPCError{Code: CodeUnauthorized, Message: msg} }
func Internal() *RPCError               { return &RPCError{Code: CodeInternal, Message: ErrInternal} }

// FloodWait tells the client to retry after seconds.
func FloodWait(seconds int) *RPCError {
	return &RPCError{Code: CodeFlood, Message: floodWaitPrefix + strconv.Itoa(seconds)}
}

// IsFlood reports whether e asks the client to slow down, and for how long.
func (e *RPCError) IsFlood() (int, bool) {
	if e.Code == CodeTooMany {
		return 0, true
	}
	if !strings.HasPrefix(e.Message, floodWaitPrefix) {
		return 0, false
	}
	seconds, err := strconv.Atoi(strings.TrimPrefix(e.Message, floodWaitPrefix))
	if err != nil {
		return 0, true
	}
	return seconds, true
}
