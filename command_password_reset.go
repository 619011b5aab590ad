package account

import (
	"context"
	"errors"
)

// RequestPasswordReset mails a reset link. It returns nil for unknown,
// blocked and erased accounts so callers cannot learn which emails exist.
func (a *Accounts) RequestPasswordReset(ctx context.Context, email string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return a.requestPasswordReset(ctx, NormalizeEmail(email))
}

func (a *Accounts) requestPasswordReset(ctx context.Context, email string) error {
	user, err := a.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.logger.Debug("password reset for unknown email")
			return nil
		}
		return internalError("load account", err)
	}

	if user.State == StateBlocked || user.State == StateErased {
		a.logger.Debug("password reset ignored", "user_id", user.ID, "state", user.State)
		return nil
	}

	token, err := a.issueToken()
	if err != nil {
		return err
	}

	// an unverified account stays pending, the fresh token serves both links
	target := ResetPending(token)
	if user.State == StatePendingRegistration {
		target = PendingRegistration(token)
	}

	updated, err := a.machine.Transition(ctx, UserActor(user), user, target,
		WithTransitionEvent(ActivityEventResetRequested),
	)
	if errors.Is(err, ErrTerminalState) || errors.Is(err, ErrInvalidTransition) {
		a.logger.Debug("password reset lost a race", "user_id", user.ID, "error", err)
		return nil
	}
	if err != nil {
		return passThrough("request password reset", err)
	}

	a.notify(ctx, NotifyResetPassword, updated, map[string]any{
		"link": a.link(a.resetPath, token),
	})

	return nil
}

// ResetPassword sets a new password for the account holding token and
// consumes it. A pending-registration token is accepted too, which also
// verifies the account.
func (a *Accounts) ResetPassword(ctx context.Context, token, newPassword string) (*User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if token == "" {
		return nil, ErrTokenExpiredOrInvalid
	}

	if err := a.validator.ValidatePassword(FieldNewPassword, newPassword); err != nil {
		return nil, err
	}

	hash, err := a.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	user, err := a.machine.ConsumeToken(ctx, token, Fields{"password_hash": hash},
		WithTransitionEvent(ActivityEventPasswordReset),
	)
	if err != nil {
		return nil, passThrough("reset password", err)
	}

	a.logger.Info("password reset", "user_id", user.ID)
	return user, nil
}

// VerifyEmail consumes a verification token and activates the account.
func (a *Accounts) VerifyEmail(ctx context.Context, token string) (*User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	user, err := a.machine.ConsumeToken(ctx, token, nil,
		WithTransitionEvent(ActivityEventEmailVerified),
	)
	if err != nil {
		return nil, passThrough("verify email", err)
	}

	a.logger.Info("email verified", "user_id", user.ID)
	return user, nil
}
