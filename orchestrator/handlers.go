package orchestrator

import (
	"context"
	"fmt"

	account "github.com/goliatone/go-account"
	"github.com/goliatone/go-account/session"
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailPayload struct {
	Email string `json:"email"`
}

type tokenPayload struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordPayload struct {
	Password    string `json:"password"`
	NewPassword string `json:"new_password"`
}

type changeEmailPayload struct {
	Password string `json:"password"`
	NewEmail string `json:"new_email"`
}

func (o *Orchestrator) register(ctx context.Context, call *Call) (*account.User, error) {
	in := account.RegisterInput{}
	if err := decode(call.Request.Payload, &in); err != nil {
		return nil, err
	}
	return o.accounts.Register(ctx, in)
}

func (o *Orchestrator) login(ctx context.Context, call *Call) (*account.User, error) {
	in := credentialsPayload{}
	if err := decode(call.Request.Payload, &in); err != nil {
		return nil, err
	}

	user, err := o.accounts.Login(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}

	if call.Request.Session != "" && o.sessions != nil {
		if err := o.sessions.Put(ctx, call.Request.Session, session.Record{ID: user.ID.String()}); err != nil {
			return nil, internal("store session", err)
		}
	}

	return user, nil
}

func (o *Orchestrator) logout(ctx context.Context, call *Call) (*account.User, error) {
	if err := o.sessions.Delete(ctx, call.Request.Session); err != nil {
		return nil, internal("delete session", err)
	}
	return nil, nil
}

func (o *Orchestrator) requestResetPassword(ctx context.Context, call *Call) (*account.User, error) {
	in := emailPayload{}
	if err := decode(call.Request.Payload, &in); err != nil {
		return nil, err
	}
	return nil, o.accounts.RequestPasswordReset(ctx, in.Email)
}

func (o *Orchestrator) resetPassword(ctx context.Context, call *Call) (*account.User, error) {
	in := tokenPayload{}
	if err := decode(call.Request.Payload, &in); err != nil {
		return nil, err
	}
	_, err := o.accounts.ResetPassword(ctx, in.Token, in.NewPassword)
	return nil, err
}

func (o *Orchestrator) verifyEmail(ctx context.Context, call *Call) (*account.User, error) {
	in := tokenPayload{}
	if err := decode(call.Request.Payload, &in); err != nil {
		return nil, err
	}
	_, err := o.accounts.VerifyEmail(ctx, in.Token)
	return nil, err
}

func (o *Orchestrator) unsubscribe(ctx context.Context, call *Call) (*account.User, error) {
	if err := o.accounts.GDPRUnsubscribe(ctx, call.User); err != nil {
		return nil, err
	}
	o.dropSession(ctx, call.Request.Session)
	return nil, nil
}

func (o *Orchestrator) changePassword(ctx context.Context, call *Call) (*account.User, error) {
	in := changePasswordPayload{}
	if err := decode(call.Request.Payload, &in); err != nil {
		return nil, err
	}
	return o.accounts.ChangePassword(ctx, call.User, in.NewPassword, in.Password)
}

func (o *Orchestrator) changeEmail(ctx context.Context, call *Call) (*account.User, error) {
	in := changeEmailPayload{}
	if err := decode(call.Request.Payload, &in); err != nil {
		return nil, err
	}
	return o.accounts.ChangeEmail(ctx, call.User, in.NewEmail, in.Password)
}

func (o *Orchestrator) updateProfile(ctx context.Context, call *Call) (*account.User, error) {
	fields := map[string]any{}
	if err := decode(call.Request.Payload, &fields); err != nil {
		return nil, err
	}
	return o.accounts.UpdateProfile(ctx, call.User, fields)
}

func (o *Orchestrator) profile(_ context.Context, call *Call) (*account.User, error) {
	return call.User, nil
}

func internal(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", account.ErrInternal, msg, err)
}
