package authserver

import (
	"crypto/rand"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/larriantoniy/tg_login_client/internal/wire"
)

type account struct {
	user wire.User
}

type issuedCode struct {
	phone     string
	code      string
	expiresAt time.Time
	attempts  int
}

// phoneLimiter throttles code requests for one phone.
type phoneLimiter struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// maxCodeAttempts is how many wrong codes a hash survives.
const maxCodeAttempts = 5

// registry holds accounts, issued codes and session tokens in memory.
type registry struct {
	mu         sync.Mutex
	accounts   map[string]*account // phone → account
	codes      map[string]*issuedCode
	tokens     map[string]int64 // token → user id
	limiters   map[string]*phoneLimiter
	nextUserID int64

	codeLength   int
	codeTTL      time.Duration
	codeInterval time.Duration
	codeBurst    int
}

func newRegistry(cfg Config) *registry {
	return &registry{
		accounts:     make(map[string]*account),
		codes:        make(map[string]*issuedCode),
		tokens:       make(map[string]int64),
		limiters:     make(map[string]*phoneLimiter),
		nextUserID:   100000,
		codeLength:   cfg.CodeLength,
		codeTTL:      cfg.CodeTTL,
		codeInterval: cfg.CodeInterval,
		codeBurst:    cfg.CodeBurst,
	}
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for range n {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// issue creates a code for phone unless the phone is over its rate.
func (r *registry) issue(phone string, now time.Time) (hash, code string, rpcErr *wire.RPCError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gc(now)

	pl, ok := r.limiters[phone]
	if !ok {
		pl = &phoneLimiter{lim: rate.NewLimiter(rate.Every(r.codeInterval), r.codeBurst)}
		r.limiters[phone] = pl
	}
	pl.lastUsed = now
	if !pl.lim.AllowN(now, 1) {
		return "", "", wire.FloodWait(int(math.Ceil(r.codeInterval.Seconds())))
	}

	code, err := randomDigits(r.codeLength)
	if err != nil {
		return "", "", wire.Internal()
	}
	hash = uuid.NewString()
	r.codes[hash] = &issuedCode{phone: phone, code: code, expiresAt: now.Add(r.codeTTL)}
	return hash, code, nil
}

// gc drops expired codes and limiters that have refilled completely;
// a fresh limiter behaves the same as a full one.
func (r *registry) gc(now time.Time) {
	for h, c := range r.codes {
		if now.After(c.expiresAt) {
			delete(r.codes, h)
		}
	}
	idle := r.codeInterval * time.Duration(r.codeBurst)
	for phone, pl := range r.limiters {
		if now.Sub(pl.lastUsed) >= idle {
			delete(r.limiters, phone)
		}
	}
}

// redeem checks code against hash and returns a fresh session token.
func (r *registry) redeem(phone, hash, code string, now time.Time) (wire.User, string, *wire.RPCError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	issued, ok := r.codes[hash]
	if !ok || issued.phone != phone {
		return wire.User{}, "", wire.BadRequest(wire.ErrPhoneCodeInvalid)
	}
	if now.After(issued.expiresAt) {
		delete(r.codes, hash)
		return wire.User{}, "", wire.BadRequest(wire.ErrPhoneCodeExpired)
	}
	if issued.code != code {
		issued.attempts++
		if issued.attempts >= maxCodeAttempts {
			delete(r.codes, hash)
			return wire.User{}, "", wire.BadRequest(wire.ErrPhoneCodeExpired)
		}
		return wire.User{}, "", wire.BadRequest(wire.ErrPhoneCodeInvalid)
	}
	delete(r.codes, hash)

	acc := r.accountLocked(phone)
	token := uuid.NewString()
	r.tokens[token] = acc.user.ID
	return acc.user, token, nil
}

func (r *registry) accountLocked(phone string) *account {
	if acc, ok := r.accounts[phone]; ok {
		return acc
	}
	r.nextUserID++
	tail := phone
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	acc := &account{user: wire.User{
		ID:        r.nextUserID,
		Username:  "user" + tail,
		FirstName: "Test",
		LastName:  "User " + tail,
		Phone:     phone,
	}}
	r.accounts[phone] = acc
	return acc
}

func (r *registry) userByToken(token string) (wire.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.tokens[token]
	if !ok {
		return wire.User{}, false
	}
	for _, acc := range r.accounts {
		if acc.user.ID == id {
			return acc.user, true
		}
	}
	return wire.User{}, false
}

func (r *registry) revoke(token string) {
	r.mu.Lock()
	delete(r.tokens, token)
	r.mu.Unlock()
}
