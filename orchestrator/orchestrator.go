// Package orchestrator maps named operations and their JSON payloads onto
// account calls and renders every outcome as one response envelope.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/goliatone/go-print"
	"github.com/google/uuid"

	account "github.com/goliatone/go-account"
	"github.com/goliatone/go-account/session"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const (
	OpRegister             = "register"
	OpLogin                = "login"
	OpLogout               = "logout"
	OpRequestResetPassword = "request_reset_password"
	OpResetPassword        = "reset_password"
	OpVerifyEmail          = "verify_email"
	OpUnsubscribe          = "unsubscribe"
	OpChangePassword       = "change_password"
	OpChangeEmail          = "change_email"
	OpUpdateProfile        = "update_profile"
	OpProfile              = "profile"
)

const (
	MessageUndefined        = "undefined"
	MessageValidationErrors = "validation errors"
	MessageInvalidPayload   = "invalid payload"
)

// Request is one inbound call.
type Request struct {
	Operation string          `json:"operation"`
	Session   string          `json:"session,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response is the uniform envelope.
type Response struct {
	Status  string            `json:"status"`
	Code    int               `json:"code"`
	Message string            `json:"message,omitempty"`
	User    *account.Profile  `json:"user,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Accounts is what the orchestrator needs from the account service.
type Accounts interface {
	Register(ctx context.Context, in account.RegisterInput) (*account.User, error)
	Login(ctx context.Context, email, password string) (*account.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) (*account.User, error)
	VerifyEmail(ctx context.Context, token string) (*account.User, error)
	ChangePassword(ctx context.Context, user *account.User, newPassword, currentPassword string, opts ...account.CredentialOption) (*account.User, error)
	ChangeEmail(ctx context.Context, user *account.User, newEmail, currentPassword string, opts ...account.CredentialOption) (*account.User, error)
	UpdateProfile(ctx context.Context, user *account.User, fields map[string]any) (*account.User, error)
	GDPRUnsubscribe(ctx context.Context, user *account.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*account.User, error)
}

var _ Accounts = (*account.Accounts)(nil)

// SessionStore keeps the logged in user id under a caller supplied handle.
type SessionStore interface {
	Get(ctx context.Context, handle string) (*session.Record, error)
	Put(ctx context.Context, handle string, record session.Record) error
	Delete(ctx context.Context, handle string) error
}

// Call is what a handler receives. User is set for user scoped operations.
type Call struct {
	Request Request
	User    *account.User
}

// HandlerFunc runs one operation. A returned user is rendered in the
// envelope.
type HandlerFunc func(ctx context.Context, call *Call) (*account.User, error)

type operation struct {
	handler    HandlerFunc
	userScoped bool
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithLogger overrides the logger
func WithLogger(l account.Logger) Option {
	return func(o *Orchestrator) {
		o.provider, o.logger = account.ResolveLogger("account.orchestrator", o.provider, l)
	}
}

// WithLoggerProvider overrides the logger provider
func WithLoggerProvider(p account.LoggerProvider) Option {
	return func(o *Orchestrator) {
		o.provider, o.logger = account.ResolveLogger("account.orchestrator", p, nil)
	}
}

// WithDebug dumps every request and envelope at debug level.
func WithDebug(debug bool) Option {
	return func(o *Orchestrator) {
		o.debug = debug
	}
}

// WithOperation adds or replaces an operation in the table.
func WithOperation(name string, handler HandlerFunc, userScoped bool) Option {
	return func(o *Orchestrator) {
		if name != "" && handler != nil {
			o.ops[name] = operation{handler: handler, userScoped: userScoped}
		}
	}
}

// Orchestrator dispatches requests through an explicit operation table.
type Orchestrator struct {
	accounts Accounts
	sessions SessionStore
	ops      map[string]operation
	logger   account.Logger
	provider account.LoggerProvider
	debug    bool
}

// New builds the operation table.
func New(accounts Accounts, sessions SessionStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		accounts: accounts,
		sessions: sessions,
	}
	o.provider, o.logger = account.ResolveLogger("account.orchestrator", nil, nil)

	o.ops = map[string]operation{
		OpRegister:             {handler: o.register},
		OpLogin:                {handler: o.login},
		OpRequestResetPassword: {handler: o.requestResetPassword},
		OpResetPassword:        {handler: o.resetPassword},
		OpVerifyEmail:          {handler: o.verifyEmail},
		OpLogout:               {handler: o.logout, userScoped: true},
		OpUnsubscribe:          {handler: o.unsubscribe, userScoped: true},
		OpChangePassword:       {handler: o.changePassword, userScoped: true},
		OpChangeEmail:          {handler: o.changeEmail, userScoped: true},
		OpUpdateProfile:        {handler: o.updateProfile, userScoped: true},
		OpProfile:              {handler: o.profile, userScoped: true},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	return o
}

// Operations lists the registered operation names.
func (o *Orchestrator) Operations() []string {
	names := make([]string, 0, len(o.ops))
	for name := range o.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle runs req and always returns an envelope.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Response {
	if o.debug {
		o.logger.Debug("request", "operation", req.Operation, "payload", print.MaybePrettyJSON(req.Payload))
	}

	res := o.handle(ctx, req)

	if o.debug {
		o.logger.Debug("response", "operation", req.Operation, "envelope", print.MaybePrettyJSON(res))
	}
	return res
}

func (o *Orchestrator) handle(ctx context.Context, req Request) Response {
	op, ok := o.ops[req.Operation]
	if !ok {
		return errorResponse(http.StatusBadRequest, MessageUndefined)
	}

	call := &Call{Request: req}

	if op.userScoped {
		user, err := o.currentUser(ctx, req.Session)
		if err != nil {
			return o.FromError(req.Operation, err)
		}
		call.User = user
	}

	user, err := op.handler(ctx, call)
	if err != nil {
		return o.FromError(req.Operation, err)
	}

	return Response{
		Status: StatusSuccess,
		Code:   http.StatusOK,
		User:   user.Profile(),
	}
}

// currentUser resolves the session handle into a loadable, usable account.
func (o *Orchestrator) currentUser(ctx context.Context, handle string) (*account.User, error) {
	if handle == "" || o.sessions == nil {
		return nil, account.ErrUnauthorized
	}

	record, err := o.sessions.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInvalidHandle) {
			return nil, account.ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: load session: %w", account.ErrInternal, err)
	}

	id, err := uuid.Parse(record.ID)
	if err != nil {
		o.dropSession(ctx, handle)
		return nil, account.ErrUnauthorized
	}

	user, err := o.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			o.dropSession(ctx, handle)
			return nil, account.ErrUnauthorized
		}
		return nil, err
	}

	if user.IsErased() || user.State == account.StateBlocked || user.State == account.StatePendingRegistration {
		o.dropSession(ctx, handle)
		return nil, account.ErrUnauthorized
	}

	return user, nil
}

func (o *Orchestrator) dropSession(ctx context.Context, handle string) {
	if err := o.sessions.Delete(ctx, handle); err != nil {
		o.logger.Warn("failed to delete session", "error", err)
	}
}

// FromError renders err as an envelope.
func (o *Orchestrator) FromError(op string, err error) Response {
	var payloadErr *payloadError

	switch {
	case err == nil:
		return Response{Status: StatusSuccess, Code: http.StatusOK}
	case account.IsValidationError(err):
		res := errorResponse(http.StatusBadRequest, MessageValidationErrors)
		res.Errors = account.FieldErrors(err)
		return res
	case errors.As(err, &payloadErr):
		return errorResponse(http.StatusBadRequest, MessageInvalidPayload)
	case errors.Is(err, account.ErrInternal):
		// may wrap a domain sentinel, always a 500
	case errors.Is(err, account.ErrTokenExpiredOrInvalid):
		return errorResponse(http.StatusBadRequest, account.ErrTokenExpiredOrInvalid.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		return errorResponse(http.StatusUnauthorized, account.ErrInvalidCredentials.Error())
	case errors.Is(err, account.ErrPendingRegistration):
		return errorResponse(http.StatusUnauthorized, account.ErrPendingRegistration.Error())
	case errors.Is(err, account.ErrBlocked):
		return errorResponse(http.StatusUnauthorized, account.ErrBlocked.Error())
	case errors.Is(err, account.ErrUnauthorized):
		return errorResponse(http.StatusUnauthorized, account.ErrUnauthorized.Error())
	case errors.Is(err, account.ErrTerminalState):
		return errorResponse(http.StatusBadRequest, account.ErrTerminalState.Error())
	case errors.Is(err, account.ErrInvalidTransition):
		return errorResponse(http.StatusBadRequest, account.ErrInvalidTransition.Error())
	case errors.Is(err, account.ErrNotFound):
		return errorResponse(http.StatusBadRequest, account.ErrNotFound.Error())
	}

	o.logger.Error("operation failed", "operation", op, "code", account.TextCode(err), "error", err)
	return errorResponse(http.StatusInternalServerError, account.ErrInternal.Error())
}

func errorResponse(code int, message string) Response {
	return Response{
		Status:  StatusError,
		Code:    code,
		Message: message,
	}
}

type payloadError struct {
	err error
}

func (e *payloadError) Error() string { return "invalid payload: " + e.err.Error() }

func (e *payloadError) Unwrap() error { return e.err }

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &payloadError{err: err}
	}
	return nil
}
