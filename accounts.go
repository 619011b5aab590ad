package account

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

const (
	DefaultVerifyPath = "/api/verify_email"
	DefaultResetPath  = "/api/reset_password"
	DefaultTokenTTL   = 24 * time.Hour
	defaultOpTimeout  = 10 * time.Second
)

// Option customizes Accounts
type Option func(*Accounts)

// WithBaseURL sets the origin used to build verification and reset links.
func WithBaseURL(base string) Option {
	return func(a *Accounts) {
		a.baseURL = strings.TrimRight(base, "/")
	}
}

// WithVerifyPath sets the path of the email verification link.
func WithVerifyPath(path string) Option {
	return func(a *Accounts) {
		if path != "" {
			a.verifyPath = path
		}
	}
}

// WithResetPath sets the path of the password reset link.
func WithResetPath(path string) Option {
	return func(a *Accounts) {
		if path != "" {
			a.resetPath = path
		}
	}
}

// WithPasswordHasher overrides the credential codec.
func WithPasswordHasher(h PasswordHasher) Option {
	return func(a *Accounts) {
		if h != nil {
			a.hasher = h
		}
	}
}

// WithTokenIssuer overrides the action token source.
func WithTokenIssuer(t TokenIssuer) Option {
	return func(a *Accounts) {
		if t != nil {
			a.tokens = t
		}
	}
}

// WithNotifier sets the notification dispatcher.
func WithNotifier(d Dispatcher) Option {
	return func(a *Accounts) {
		if d != nil {
			a.notifier = d
		}
	}
}

// WithActivitySink sets where lifecycle events are published. Defaults to
// the events repository.
func WithActivitySink(sink ActivitySink) Option {
	return func(a *Accounts) {
		a.activity = normalizeActivitySink(sink)
	}
}

// WithLogger overrides the logger
func WithLogger(l Logger) Option {
	return func(a *Accounts) {
		a.provider, a.logger = ResolveLogger("account", a.provider, l)
	}
}

// WithLoggerProvider overrides the logger provider
func WithLoggerProvider(p LoggerProvider) Option {
	return func(a *Accounts) {
		a.provider, a.logger = ResolveLogger("account", p, nil)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(a *Accounts) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithValidator overrides the validation layer.
func WithValidator(v *Validator) Option {
	return func(a *Accounts) {
		if v != nil {
			a.validator = v
		}
	}
}

// WithRequireEmailConfirmation toggles the pending-registration step. When
// disabled new accounts are active immediately and no mail is sent.
func WithRequireEmailConfirmation(required bool) Option {
	return func(a *Accounts) {
		a.requireConfirmation = required
	}
}

// WithBlockErasedReregistration rejects registration of emails that were
// previously erased.
func WithBlockErasedReregistration(block bool) Option {
	return func(a *Accounts) {
		a.blockErased = block
	}
}

// WithErasedEmailDomain sets the domain of derived erasure emails.
func WithErasedEmailDomain(domain string) Option {
	return func(a *Accounts) {
		if domain != "" {
			a.erasedDomain = domain
		}
	}
}

// WithTokenTTL sets how long action tokens stay valid. Zero disables expiry.
func WithTokenTTL(ttl time.Duration) Option {
	return func(a *Accounts) {
		if ttl >= 0 {
			a.tokenTTL = ttl
		}
	}
}

// WithHashidIDs derives user ids from the email instead of generating
// random ones. A random id is used when the derived one is already taken,
// e.g. by an account that changed its email away from this address.
func WithHashidIDs() Option {
	return func(a *Accounts) {
		a.useHashid = true
	}
}

// WithStateMachine overrides the state machine. Mostly for tests.
func WithStateMachine(sm AccountStateMachine) Option {
	return func(a *Accounts) {
		if sm != nil {
			a.machine = sm
		}
	}
}

// Accounts is the account state machine service. It is safe for
// concurrent use; it holds no mutable state besides its collaborators.
type Accounts struct {
	repo      RepositoryManager
	users     Users
	machine   AccountStateMachine
	validator *Validator
	hasher    PasswordHasher
	tokens    TokenIssuer
	notifier  Dispatcher
	activity  ActivitySink
	logger    Logger
	provider  LoggerProvider
	now       func() time.Time

	baseURL             string
	verifyPath          string
	resetPath           string
	requireConfirmation bool
	blockErased         bool
	erasedDomain        string
	tokenTTL            time.Duration
	useHashid           bool

	dummyOnce sync.Once
	dummy     string
}

// NewAccounts wires the service around repo.
func NewAccounts(repo RepositoryManager, opts ...Option) *Accounts {
	a := &Accounts{
		repo:                repo,
		users:               repo.Users(),
		hasher:              BcryptHasher{},
		tokens:              DefaultTokenIssuer,
		activity:            normalizeActivitySink(repo.Events()),
		now:                 func() time.Time { return time.Now().UTC() },
		verifyPath:          DefaultVerifyPath,
		resetPath:           DefaultResetPath,
		requireConfirmation: true,
		blockErased:         true,
		erasedDomain:        DefaultErasedEmailDomain,
		tokenTTL:            DefaultTokenTTL,
	}
	a.provider, a.logger = ResolveLogger("account", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.validator == nil {
		a.validator = NewValidator(a.users)
	}

	if a.notifier == nil {
		a.notifier = MustNewNotifier(WithNotifierLogger(a.provider.GetLogger("account.notifier")))
	}

	if a.machine == nil {
		a.machine = NewAccountStateMachine(a.users,
			WithStateMachineClock(a.now),
			WithStateMachineActivitySink(a.activity),
			WithStateMachineLogger(a.logger),
			WithStateMachineTokenTTL(a.tokenTTL),
		)
	}

	return a
}

// StateMachine exposes the underlying transition engine.
func (a *Accounts) StateMachine() AccountStateMachine {
	return a.machine
}

// FindByID loads an account by id.
func (a *Accounts) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := a.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, internalError("find account", err)
	}
	return user, nil
}

// FindByEmail loads an account by its normalized email.
func (a *Accounts) FindByEmail(ctx context.Context, email string) (*User, error) {
	user, err := a.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, internalError("find account", err)
	}
	return user, nil
}

func (a *Accounts) newUserID(email string) uuid.UUID {
	if a.useHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			return id
		}
	}
	return uuid.New()
}

func (a *Accounts) issueToken() (string, error) {
	token, err := a.tokens.Issue()
	if err != nil {
		return "", internalError("issue action token", err)
	}
	if token == "" {
		return "", internalError("issue action token", errors.New("empty token"))
	}
	return token, nil
}

func (a *Accounts) link(path, token string) string {
	return a.baseURL + path + "?token=" + url.QueryEscape(token)
}

// notify hands off a message after the state change is committed. Failures
// are logged and recorded, never returned.
func (a *Accounts) notify(ctx context.Context, kind NotificationKind, recipient *User, extra map[string]any) {
	if a.notifier.Send(ctx, kind, recipient, extra) {
		return
	}

	a.logger.Warn("notification not delivered", "kind", kind, "user_id", recipient.ID)
	a.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventNotificationError,
		Actor:     SystemActor,
		UserID:    recipient.ID.String(),
		Metadata:  map[string]any{"kind": string(kind)},
	})
}

func (a *Accounts) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = SystemActor
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}
	if err := a.activity.Record(ctx, event); err != nil {
		a.logger.Warn("activity sink error", "error", err, "event", event.EventType)
	}
}

// dummyHash is compared against when an email is unknown.
func (a *Accounts) dummyHash() string {
	a.dummyOnce.Do(func() {
		a.dummy = RandomPasswordHash(a.hasher)
	})
	return a.dummy
}

// verifyCurrentPassword re-checks the caller's password for sensitive
// changes.
func (a *Accounts) verifyCurrentPassword(user *User, password string) error {
	if err := a.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if errors.Is(err, ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		a.logger.Warn("password comparison failed", "user_id", user.ID, "error", err)
		return ErrInvalidCredentials
	}
	return nil
}

func (a *Accounts) hashPassword(password string) (string, error) {
	hash, err := a.hasher.HashPassword(password)
	if err != nil {
		return "", internalError("hash password", err)
	}
	return hash, nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultOpTimeout)
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// passThrough keeps domain errors intact and wraps anything else as an
// internal failure.
func passThrough(msg string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case IsValidationError(err),
		errors.Is(err, ErrInternal),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrPendingRegistration),
		errors.Is(err, ErrBlocked),
		errors.Is(err, ErrTokenExpiredOrInvalid),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrTerminalState),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}

	return internalError(msg, err)
}
