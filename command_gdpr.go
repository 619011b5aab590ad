package account

import (
	"context"
	"errors"
)

// GDPRUnsubscribe anonymizes the account and moves it to the terminal
// erased state. The unsubscribe notice is addressed with the pre-erasure
// snapshot.
func (a *Accounts) GDPRUnsubscribe(ctx context.Context, user *User) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if user == nil {
		return ErrUnauthorized
	}

	if user.IsErased() {
		return ErrTerminalState
	}

	snapshot := user.Clone()

	_, err := a.machine.Transition(ctx, UserActor(user), user, Erased(),
		WithTransitionEvent(ActivityEventGDPRUnsubscribed),
		WithTransitionFields(Fields{
			FieldEmail:      ErasedEmail(snapshot.Email, a.erasedDomain),
			"password_hash": nil,
			FieldSSOID:      nil,
			FieldPhone:      nil,
			FieldFirstName:  AnonymousName,
			FieldLastName:   AnonymousName,
		}),
	)
	if errors.Is(err, ErrConflict) {
		// an erased record for this email already exists, drop the duplicate
		err = a.users.Delete(ctx, snapshot.ID)
		if err == nil {
			a.recordActivity(ctx, ActivityEvent{
				EventType: ActivityEventGDPRUnsubscribed,
				Actor:     UserActor(snapshot),
				UserID:    snapshot.ID.String(),
				FromState: snapshot.State,
				ToState:   StateErased,
				Metadata:  map[string]any{"deleted": true},
			})
		}
	}
	if err != nil {
		return passThrough("erase account", err)
	}

	a.logger.Info("account erased", "user_id", user.ID)

	a.notify(ctx, NotifyUnsubscribe, snapshot, nil)

	return nil
}

// IsGDPRUnsubscribed reports whether an erased account exists for email.
// Only the derived hash is compared, the plaintext is never stored.
func (a *Accounts) IsGDPRUnsubscribed(ctx context.Context, email string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	count, err := a.users.CountErased(ctx, ErasedEmail(email, a.erasedDomain))
	if err != nil {
		return false, internalError("count erased accounts", err)
	}
	return count > 0, nil
}
