package authserver

import (
	"math"

	"github.com/larriantoniy/tg_login_client/internal/domain"
	"github.com/larriantoniy/tg_login_client/internal/wire"
)

func (s *Server) checkAPI(apiID int32, apiHash string) bool {
	if apiID <= 0 || apiHash == "" {
		return false
	}
	if len(s.cfg.APIHashes) == 0 {
		return true
	}
	want, ok := s.cfg.APIHashes[apiID]
	return ok && want == apiHash
}

func (s *Server) sendCode(in wire.SendCodeRequest) (any, *wire.RPCError) {
	if !s.checkAPI(in.APIID, in.APIHash) {
		return nil, wire.BadRequest(wire.ErrAPIIDInvalid)
	}
	phone := domain.NormalizePhone(in.PhoneNumber)
	if err := domain.ValidatePhone(phone); err != nil {
		return nil, wire.BadRequest(wire.ErrPhoneNumberInvalid)
	}

	hash, code, rpcErr := s.reg.issue(phone, s.now())
	if rpcErr != nil {
		return nil, rpcErr
	}
	s.sink(phone, code)

	return wire.SentCode{
		PhoneCodeHash: hash,
		CodeLength:    len(code),
		Timeout:       int(math.Round(s.cfg.CodeTTL.Seconds())),
	}, nil
}

func (s *Server) signIn(sess *session, in wire.SignInRequest) (any, *wire.RPCError) {
	if in.PhoneCodeHash == "" {
		return nil, wire.BadRequest(wire.ErrPhoneCodeHashEmpty)
	}
	if in.PhoneCode == "" {
		return nil, wire.BadRequest(wire.ErrPhoneCodeEmpty)
	}
	phone := domain.NormalizePhone(in.PhoneNumber)
	if err := domain.ValidatePhone(phone); err != nil {
		return nil, wire.BadRequest(wire.ErrPhoneNumberInvalid)
	}

	user, token, rpcErr := s.reg.redeem(phone, in.PhoneCodeHash, in.PhoneCode, s.now())
	if rpcErr != nil {
		return nil, rpcErr
	}
	sess.token = token
	sess.user = user
	s.log.Info("signed in", "user_id", user.ID, "api_id", sess.apiID)

	return wire.Authorization{User: user, AuthToken: token}, nil
}

func (s *Server) importAuthorization(sess *session, in wire.ImportAuthorizationRequest) (any, *wire.RPCError) {
	user, ok := s.reg.userByToken(in.AuthToken)
	if !ok {
		return nil, wire.Unauthorized(wire.ErrAuthKeyUnregistered)
	}
	sess.token = in.AuthToken
	sess.user = user
	return wire.Authorization{User: user, AuthToken: in.AuthToken}, nil
}

func (s *Server) getFullUser(sess *session) (any, *wire.RPCError) {
	if sess.token == "" {
		return nil, wire.Unauthorized(wire.ErrAuthKeyUnregistered)
	}
	// токен могли отозвать с другого соединения
	user, ok := s.reg.userByToken(sess.token)
	if !ok {
		sess.token = ""
		return nil, wire.Unauthorized(wire.ErrAuthKeyUnregistered)
	}
	return wire.FullUser{User: user}, nil
}

func (s *Server) logOut(sess *session) (any, *wire.RPCError) {
	if sess.token == "" {
		return nil, wire.Unauthorized(wire.ErrAuthKeyUnregistered)
	}
	s.reg.revoke(sess.token)
	s.log.Info("logged out", "user_id", sess.user.ID)
	sess.token = ""
	sess.user = wire.User{}
	return wire.LogOutResult{OK: true}, nil
}
