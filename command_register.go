package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RegisterInput is the registration payload.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone_number,omitempty"`
}

// Register creates an account. With email confirmation enabled the account
// starts pending-registration and a verification link is mailed.
func (a *Accounts) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return a.register(ctx, in)
}

func (a *Accounts) register(ctx context.Context, in RegisterInput) (*User, error) {
	email := NormalizeEmail(in.Email)

	fields := map[string]any{
		FieldEmail:     email,
		FieldPassword:  in.Password,
		FieldFirstName: in.FirstName,
		FieldLastName:  in.LastName,
	}
	if in.Phone != "" {
		fields[FieldPhone] = in.Phone
	}

	if err := a.validator.Validate(ctx, uuid.Nil, fields); err != nil {
		return nil, err
	}

	if a.blockErased {
		count, err := a.users.CountErased(ctx, ErasedEmail(email, a.erasedDomain))
		if err != nil {
			return nil, internalError("check erased email", err)
		}
		if count > 0 {
			return nil, NewValidationError(map[string]string{FieldEmail: MsgUnsubscribed})
		}
	}

	phone := ""
	if in.Phone != "" {
		normalized, err := a.validator.NormalizePhone(in.Phone)
		if err != nil {
			return nil, NewValidationError(map[string]string{FieldPhone: MsgInvalidPhone})
		}
		phone = normalized
	}

	hash, err := a.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	target := Active()
	if a.requireConfirmation {
		token, err := a.issueToken()
		if err != nil {
			return nil, err
		}
		target = PendingRegistration(token)
	}

	if !a.machine.CanTransition(StateNoAccount, target.Kind) {
		return nil, ErrInvalidTransition
	}

	now := a.now().UTC()
	user := &User{
		ID:           a.newUserID(email),
		Email:        email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        phone,
		State:        target.Kind,
		ActionToken:  target.Token,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if target.Kind.HasToken() {
		user.ActionIssuedAt = &now
	}

	err = a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := a.users.GetByEmailTx(ctx, tx, email); err == nil {
			return NewValidationError(map[string]string{FieldEmail: MsgInUse})
		} else if !errors.Is(err, ErrNotFound) {
			return internalError("check email", err)
		}

		if a.useHashid {
			// the derived id may belong to a row whose email has since changed
			if _, err := a.users.GetByIDTx(ctx, tx, user.ID); err == nil {
				user.ID = uuid.New()
			} else if !errors.Is(err, ErrNotFound) {
				return internalError("check account id", err)
			}
		}

		if _, err := a.users.InsertTx(ctx, tx, user); err != nil {
			if errors.Is(err, ErrConflict) {
				return NewValidationError(map[string]string{FieldEmail: MsgInUse})
			}
			return internalError("insert account", err)
		}
		return nil
	})
	if err != nil {
		if IsValidationError(err) {
			return nil, err
		}
		if errors.Is(err, ErrConflict) {
			return nil, NewValidationError(map[string]string{FieldEmail: MsgInUse})
		}
		return nil, passThrough("register account", err)
	}

	a.logger.Info("account registered", "user_id", user.ID, "state", user.State)

	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRegistered,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
		FromState: StateNoAccount,
		ToState:   target.Kind,
	})

	if target.Kind == StatePendingRegistration {
		a.notify(ctx, NotifyVerifyEmail, user, map[string]any{
			"link": a.link(a.verifyPath, target.Token),
		})
	}

	return user, nil
}
