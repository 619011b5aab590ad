package account_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	account "github.com/goliatone/go-account"
)

func TestValidationErrorAccumulates(t *testing.T) {
	verr := account.NewValidationError(nil)
	assert.False(t, verr.HasErrors())
	assert.NoError(t, verr.OrNil())

	verr.Add("email", "invalid email")
	verr.Add("email", "already in use")
	verr.Add("first_name", "required")

	assert.True(t, verr.HasErrors())
	assert.Equal(t, "invalid email", verr.Fields["email"], "first message wins")
	assert.Equal(t, "validation errors: email: invalid email; first_name: required", verr.Error())
}

func TestFieldErrorsUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("register: %w", account.NewValidationError(map[string]string{"email": "required"}))

	assert.True(t, account.IsValidationError(wrapped))
	assert.Equal(t, map[string]string{"email": "required"}, account.FieldErrors(wrapped))
	assert.Nil(t, account.FieldErrors(errors.New("boom")))
}

func TestTextCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", account.NewValidationError(map[string]string{"x": "y"}), account.TextCodeValidation},
		{"pending", account.ErrPendingRegistration, account.TextCodePendingRegistration},
		{"blocked", account.ErrBlocked, account.TextCodeBlocked},
		{"credentials", account.ErrInvalidCredentials, account.TextCodeInvalidCreds},
		{"mismatch", account.ErrMismatchedHashAndPassword, account.TextCodeInvalidCreds},
		{"token", fmt.Errorf("x: %w", account.ErrTokenExpiredOrInvalid), account.TextCodeTokenInvalid},
		{"unauthorized", account.ErrUnauthorized, account.TextCodeUnauthorized},
		{"not found", account.ErrNotFound, account.TextCodeNotFound},
		{"conflict", account.ErrConflict, account.TextCodeConflict},
		{"unknown", errors.New("boom"), account.TextCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, account.TextCode(tt.err))
		})
	}
}
