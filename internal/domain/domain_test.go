package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

func TestError_KindMatching(t *testing.T) {
	err := fmt.Errorf("send code: %w", domain.E(domain.KindTimeout, "auth.sendCode", errors.New("deadline")))

	assert.ErrorIs(t, err, domain.ErrTimeout)
	// timeout считается сетевой ошибкой
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.NotErrorIs(t, err, domain.ErrInvalidCode)
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))

	assert.NotErrorIs(t, domain.E(domain.KindNetwork, "x", nil), domain.ErrTimeout)
	assert.Equal(t, domain.KindUnknown, domain.KindOf(errors.New("plain")))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "auth.signIn: invalid-code: PHONE_CODE_INVALID",
		domain.E(domain.KindInvalidCode, "auth.signIn", errors.New("PHONE_CODE_INVALID")).Error())
	assert.Equal(t, "auth.signIn: busy", domain.E(domain.KindBusy, "auth.signIn", nil).Error())
	assert.Equal(t, "unauthenticated", domain.ErrUnauthenticated.Error())
}

func TestPhone(t *testing.T) {
	tests := []struct {
		in    string
		norm  string
		valid bool
	}{
		{"+15551234567", "+15551234567", true},
		{" +1 (555) 123-45-67 ", "+15551234567", true},
		{"15551234567", "15551234567", true},
		{"+0123456789", "+0123456789", false},
		{"12345", "12345", false},
		{"1+5551234567", "15551234567", true},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			norm := domain.NormalizePhone(tt.in)
			assert.Equal(t, tt.norm, norm)
			err := domain.ValidatePhone(norm)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
			}
		})
	}
}

func TestValidateCode(t *testing.T) {
	assert.NoError(t, domain.ValidateCode("0000"))
	assert.NoError(t, domain.ValidateCode("12345678"))
	assert.ErrorIs(t, domain.ValidateCode("123"), domain.ErrInvalidInput)
	assert.ErrorIs(t, domain.ValidateCode("12a45"), domain.ErrInvalidInput)
}

func TestCredentials_Validate(t *testing.T) {
	assert.NoError(t, domain.Credentials{APIID: 12345, APIHash: "abc"}.Validate())
	assert.ErrorIs(t, domain.Credentials{APIHash: "abc"}.Validate(), domain.ErrInvalidInput)
	assert.ErrorIs(t, domain.Credentials{APIID: 1, APIHash: "  "}.Validate(), domain.ErrInvalidInput)
}

func TestProxyConfig(t *testing.T) {
	def := domain.DefaultProxy()
	assert.False(t, def.Active())
	assert.Equal(t, domain.DefaultProxyPort, def.Port)
	require.NoError(t, def.Validate())

	p := domain.ProxyConfig{Enabled: true, Host: "::1", Port: 9050}
	require.NoError(t, p.Validate())
	assert.True(t, p.Active())
	assert.Equal(t, "[::1]:9050", p.Addr())
	assert.False(t, p.HasAuth())

	// выключенный прокси не проверяется
	assert.NoError(t, domain.ProxyConfig{Port: 0}.Validate())
	assert.ErrorIs(t, domain.ProxyConfig{Enabled: true, Port: 1080}.Validate(), domain.ErrInvalidInput)
	assert.ErrorIs(t, domain.ProxyConfig{Enabled: true, Host: "h", Port: 70000}.Validate(), domain.ErrInvalidInput)
}

func TestSession(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &domain.Session{PhoneNumber: "+15551234567", PhoneCodeHash: "h", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}

	assert.True(t, s.Matches("+15551234567", "h"))
	assert.False(t, s.Matches("+15557654321", "h"))
	assert.False(t, s.Matches("+15551234567", "other"))

	var none *domain.Session
	assert.False(t, none.Matches("+15551234567", "h"))

	assert.False(t, s.Expired(now.Add(59*time.Second)))
	assert.True(t, s.Expired(now.Add(time.Minute)))
	assert.False(t, (&domain.Session{}).Expired(now))
}
