package account

import (
	"context"
	"errors"
)

// Login verifies credentials. Unknown emails and wrong passwords fail with
// the same ErrInvalidCredentials message; pending and blocked accounts get
// their own errors. Login never touches the pending action token.
func (a *Accounts) Login(ctx context.Context, email, password string) (*User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return a.login(ctx, NormalizeEmail(email), password)
}

func (a *Accounts) login(ctx context.Context, email, password string) (*User, error) {
	user, err := a.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, internalError("load account", err)
		}

		_ = a.hasher.ComparePasswordAndHash(password, a.dummyHash())
		a.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata:  map[string]any{"reason": "unknown_email"},
		})
		return nil, maskedError{public: ErrInvalidCredentials, cause: ErrNotFound}
	}

	switch user.State {
	case StatePendingRegistration:
		a.loginFailed(ctx, user, "pending_registration")
		return nil, ErrPendingRegistration
	case StateBlocked:
		a.loginFailed(ctx, user, "blocked")
		return nil, ErrBlocked
	case StateErased:
		_ = a.hasher.ComparePasswordAndHash(password, a.dummyHash())
		a.loginFailed(ctx, user, "erased")
		return nil, ErrInvalidCredentials
	}

	if !user.State.CanLogin() && user.State != "" {
		a.loginFailed(ctx, user, "state")
		return nil, ErrInvalidCredentials
	}

	if err := a.verifyCurrentPassword(user, password); err != nil {
		a.loginFailed(ctx, user, "password")
		return nil, err
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
	})

	return user, nil
}

func (a *Accounts) loginFailed(ctx context.Context, user *User, reason string) {
	a.logger.Debug("login rejected", "user_id", user.ID, "reason", reason)
	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"reason": reason},
	})
}
