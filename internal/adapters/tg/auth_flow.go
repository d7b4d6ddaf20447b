package tg

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zelenin/go-tdlib/client"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

var errFlowAborted = errors.New("tdlib: authorization aborted")

type sentResult struct {
	code domain.SentCode
	err  error
}

// authFlow drives one TDLib authorization. TDLib asks for the phone and the
// code through Handle; the transport answers from SendCode and SignIn.
type authFlow struct {
	token  string
	phone  string
	params *client.SetTdlibParametersRequest
	log    *slog.Logger

	mu sync.Mutex
	td *client.Client

	sent     chan sentResult
	sentOnce sync.Once
	codes    chan string
	results  chan error

	authorized chan struct{}
	auth       domain.Authorization

	dead      chan struct{}
	failure   error
	aborted   chan struct{}
	abortOnce sync.Once
	endOnce   sync.Once
}

func newAuthFlow(token, phone string, params *client.SetTdlibParametersRequest, log *slog.Logger) *authFlow {
	return &authFlow{
		token:      token,
		phone:      phone,
		params:     params,
		log:        log,
		sent:       make(chan sentResult, 1),
		codes:      make(chan string),
		results:    make(chan error, 1),
		authorized: make(chan struct{}),
		dead:       make(chan struct{}),
		aborted:    make(chan struct{}),
	}
}

func (f *authFlow) client() *client.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.td
}

func (f *authFlow) reportSent(code domain.SentCode, err error) {
	f.sentOnce.Do(func() {
		f.sent <- sentResult{code: code, err: err}
	})
}

func (f *authFlow) reportSignIn(err error) {
	select {
	case f.results <- err:
	default:
	}
}

func (f *authFlow) abort() {
	f.abortOnce.Do(func() { close(f.aborted) })
}

// finish records how NewClient ended. Only the first call counts.
func (f *authFlow) finish(auth domain.Authorization, err error) {
	f.endOnce.Do(func() {
		if err != nil {
			f.failure = err
			close(f.dead)
			return
		}
		f.auth = auth
		// сессия уже была авторизована, код TDLib не спрашивал
		f.reportSent(domain.SentCode{PhoneCodeHash: f.token}, nil)
		close(f.authorized)
	})
}

func (f *authFlow) Handle(c *client.Client, state client.AuthorizationState) error {
	f.mu.Lock()
	f.td = c
	f.mu.Unlock()

	f.log.Debug("authorization state", "state", state.AuthorizationStateType())

	switch s := state.(type) {
	case *client.AuthorizationStateWaitTdlibParameters:
		_, err := c.SetTdlibParameters(f.params)
		return err

	case *client.AuthorizationStateWaitPhoneNumber:
		_, err := c.SetAuthenticationPhoneNumber(&client.SetAuthenticationPhoneNumberRequest{
			PhoneNumber: f.phone,
			Settings: &client.PhoneNumberAuthenticationSettings{
				IsCurrentPhoneNumber: true,
			},
		})
		if err != nil {
			f.reportSent(domain.SentCode{}, err)
		}
		return err

	case *client.AuthorizationStateWaitCode:
		f.reportSent(sentCode(f.token, s.CodeInfo), nil)

		select {
		case code := <-f.codes:
			_, err := c.CheckAuthenticationCode(&client.CheckAuthenticationCodeRequest{Code: code})
			if err == nil {
				return nil
			}
			f.reportSignIn(err)
			// на неверный код TDLib остаётся в WaitCode и спросит снова
			if isWrongCode(err) {
				return nil
			}
			return err
		case <-f.aborted:
			return errFlowAborted
		}

	case *client.AuthorizationStateWaitPassword:
		err := errors.New("tdlib: two-step verification password required")
		f.reportSignIn(err)
		return err

	case *client.AuthorizationStateReady:
		return nil

	default:
		err := fmt.Errorf("tdlib: unsupported authorization state %s", state.AuthorizationStateType())
		f.reportSent(domain.SentCode{}, err)
		f.reportSignIn(err)
		return err
	}
}

func (f *authFlow) Close() {}

func sentCode(token string, info *client.AuthenticationCodeInfo) domain.SentCode {
	sc := domain.SentCode{PhoneCodeHash: token}
	if info == nil {
		return sc
	}
	sc.Timeout = time.Duration(info.Timeout) * time.Second

	switch t := info.Type.(type) {
	case *client.AuthenticationCodeTypeTelegramMessage:
		sc.CodeLength = int(t.Length)
	case *client.AuthenticationCodeTypeSms:
		sc.CodeLength = int(t.Length)
	case *client.AuthenticationCodeTypeCall:
		sc.CodeLength = int(t.Length)
	}
	return sc
}
