package account

import (
	"context"
	"errors"
)

// CredentialOption customizes ChangePassword and ChangeEmail.
type CredentialOption func(*credentialOptions)

type credentialOptions struct {
	skipPasswordCheck bool
}

// SkipPasswordCheck is for trusted callers (admin tooling) that already
// authenticated the change by other means.
func SkipPasswordCheck() CredentialOption {
	return func(o *credentialOptions) {
		o.skipPasswordCheck = true
	}
}

func buildCredentialOptions(opts ...CredentialOption) credentialOptions {
	o := credentialOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// ChangePassword replaces the password after re-verifying the current one.
func (a *Accounts) ChangePassword(ctx context.Context, user *User, newPassword, currentPassword string, opts ...CredentialOption) (*User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := a.ensureMutable(user); err != nil {
		return nil, err
	}

	o := buildCredentialOptions(opts...)
	if !o.skipPasswordCheck {
		if err := a.verifyCurrentPassword(user, currentPassword); err != nil {
			return nil, err
		}
	}

	if err := a.validator.ValidatePassword(FieldNewPassword, newPassword); err != nil {
		return nil, err
	}

	hash, err := a.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	updated, err := a.users.Update(ctx, user.ID, Fields{
		"password_hash": hash,
		"updated_at":    a.now().UTC(),
	})
	if err != nil {
		return nil, passThrough("change password", err)
	}
	*user = *updated

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
	})

	return user, nil
}

// ChangeEmail replaces the email after re-verifying the password. The new
// address must be well formed and not used by another account.
func (a *Accounts) ChangeEmail(ctx context.Context, user *User, newEmail, currentPassword string, opts ...CredentialOption) (*User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := a.ensureMutable(user); err != nil {
		return nil, err
	}

	o := buildCredentialOptions(opts...)
	if !o.skipPasswordCheck {
		if err := a.verifyCurrentPassword(user, currentPassword); err != nil {
			return nil, err
		}
	}

	email := NormalizeEmail(newEmail)
	if email == user.Email {
		return user, nil
	}

	if err := a.validator.Validate(ctx, user.ID, map[string]any{FieldNewEmail: email}); err != nil {
		return nil, err
	}

	previous := user.Email
	updated, err := a.users.Update(ctx, user.ID, Fields{
		FieldEmail:   email,
		"updated_at": a.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, NewValidationError(map[string]string{FieldNewEmail: MsgInUse})
		}
		return nil, passThrough("change email", err)
	}
	*user = *updated

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventEmailChanged,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"previous_email": previous},
	})

	return user, nil
}

func (a *Accounts) ensureMutable(user *User) error {
	if user == nil {
		return ErrUnauthorized
	}
	if user.IsErased() {
		return ErrTerminalState
	}
	return nil
}
