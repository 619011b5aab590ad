package account_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	account "github.com/goliatone/go-account"
)

func TestDefaultTokenIssuerEntropy(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		token, err := account.DefaultTokenIssuer.Issue()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(raw)*8, 128)

		_, dup := seen[token]
		assert.False(t, dup, "token issued twice")
		seen[token] = struct{}{}
	}
}

func TestEncodeActionToken(t *testing.T) {
	tests := []struct {
		kind  account.StateKind
		token string
		want  string
	}{
		{account.StateActive, "", ""},
		{account.StatePendingRegistration, "abc", "pending-registration:abc"},
		{account.StateResetPending, "abc", "reset-password-request:abc"},
		{account.StateBlocked, "abc", "account-blocked:abc"},
		{account.StateErased, "", "gdpr-unsubscribed"},
		{account.StateErased, "ignored", "gdpr-unsubscribed"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, account.EncodeActionToken(tt.kind, tt.token))
		})
	}
}

func TestDecodeActionToken(t *testing.T) {
	tests := []struct {
		value  string
		want   account.AccountState
		wantOK bool
	}{
		{"", account.Active(), true},
		{"pending-registration:abc", account.PendingRegistration("abc"), true},
		{"reset-password-request:a:b", account.ResetPending("a:b"), true},
		{"account-blocked:xyz", account.Blocked("xyz"), true},
		{"gdpr-unsubscribed", account.Erased(), true},
		{"pending-registration:", account.AccountState{}, false},
		{"unknown:abc", account.AccountState{}, false},
		{"abc", account.AccountState{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, ok := account.DecodeActionToken(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAccountStateEncodedMatchesDecode(t *testing.T) {
	state := account.PendingRegistration("tok")
	decoded, ok := account.DecodeActionToken(state.Encoded())
	require.True(t, ok)
	assert.Equal(t, state, decoded)

	assert.True(t, state.Matches(account.StatePendingRegistration, "tok"))
	assert.False(t, state.Matches(account.StateResetPending, "tok"))
	assert.False(t, state.Matches(account.StatePendingRegistration, ""))
}

func TestStateKindPermissions(t *testing.T) {
	assert.True(t, account.StateActive.CanLogin())
	assert.True(t, account.StateResetPending.CanLogin())
	assert.False(t, account.StatePendingRegistration.CanLogin())
	assert.False(t, account.StateBlocked.CanLogin())
	assert.False(t, account.StateErased.CanLogin())

	assert.True(t, account.StateBlocked.HasToken())
	assert.False(t, account.StateErased.HasToken())
}
