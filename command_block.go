package account

import "context"

// Block administratively blocks an account. Blocked accounts cannot log in
// nor request password resets.
func (a *Accounts) Block(ctx context.Context, actor ActorRef, user *User, reason string) (*User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if user == nil {
		return nil, ErrNotFound
	}

	token, err := a.issueToken()
	if err != nil {
		return nil, err
	}

	user, err = a.machine.Transition(ctx, actor, user, Blocked(token),
		WithTransitionEvent(ActivityEventBlocked),
		WithTransitionReason(reason),
	)
	if err != nil {
		return nil, passThrough("block account", err)
	}

	a.logger.Info("account blocked", "user_id", user.ID, "actor", actor.ID)
	return user, nil
}

// Unblock returns a blocked account to active.
func (a *Accounts) Unblock(ctx context.Context, actor ActorRef, user *User) (*User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if user == nil {
		return nil, ErrNotFound
	}

	if user.State != StateBlocked {
		return nil, ErrInvalidTransition
	}

	user, err := a.machine.Transition(ctx, actor, user, Active(),
		WithTransitionEvent(ActivityEventUnblocked),
	)
	if err != nil {
		return nil, passThrough("unblock account", err)
	}

	a.logger.Info("account unblocked", "user_id", user.ID, "actor", actor.ID)
	return user, nil
}
