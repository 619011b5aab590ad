package account

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = errors.New("invalid account state transition")

// ErrTerminalState is returned when attempting to move away from the erased state.
var ErrTerminalState = errors.New("account state is terminal")

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor ActorRef
	User  *User
	From  AccountState
	To    AccountState
	Meta  TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// AccountStateMachine owns the account transition graph and persists
// state changes through Users.
type AccountStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, user *User, target AccountState, opts ...TransitionOption) (*User, error)
	ConsumeToken(ctx context.Context, token string, fields Fields, opts ...TransitionOption) (*User, error)
	CanTransition(from, to StateKind) bool
	CurrentState(user *User) AccountState
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineTokenTTL rejects tokens issued longer than ttl ago.
// Zero disables expiry.
func WithStateMachineTokenTTL(ttl time.Duration) StateMachineOption {
	return func(sm *accountStateMachine) {
		if ttl >= 0 {
			sm.tokenTTL = ttl
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithTransitionFields persists extra columns in the same update as the
// state change.
func WithTransitionFields(fields Fields) TransitionOption {
	return func(opts *transitionOptions) {
		if opts.fields == nil {
			opts.fields = Fields{}
		}
		for k, v := range fields {
			opts.fields[k] = v
		}
	}
}

// WithTransitionEvent names the activity event recorded for the transition.
func WithTransitionEvent(event ActivityEventType) TransitionOption {
	return func(opts *transitionOptions) {
		opts.event = event
	}
}

// WithForceTransition bypasses validation rules (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the state update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the state update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// DefaultTransitions is the account transition graph.
func DefaultTransitions() map[StateKind]map[StateKind]struct{} {
	return map[StateKind]map[StateKind]struct{}{
		StateNoAccount: {
			StatePendingRegistration: {},
			StateActive:              {},
		},
		StatePendingRegistration: {
			StateActive:              {},
			StatePendingRegistration: {},
			StateBlocked:             {},
			StateErased:              {},
		},
		StateActive: {
			StateResetPending: {},
			StateBlocked:      {},
			StateErased:       {},
		},
		StateResetPending: {
			StateActive:       {},
			StateResetPending: {},
			StateBlocked:      {},
			StateErased:       {},
		},
		StateBlocked: {
			StateActive: {},
			StateErased: {},
		},
	}
}

// NewAccountStateMachine returns the default implementation backed by users.
func NewAccountStateMachine(users Users, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		users:        users,
		transitions:  DefaultTransitions(),
		now:          func() time.Time { return time.Now().UTC() },
		activitySink: noopActivitySink{},
		logger:       NopLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	users        Users
	transitions  map[StateKind]map[StateKind]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
	tokenTTL     time.Duration
}

type transitionOptions struct {
	metadata    TransitionMetadata
	fields      Fields
	event       ActivityEventType
	force       bool
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (sm *accountStateMachine) Transition(ctx context.Context, actor ActorRef, user *User, target AccountState, opts ...TransitionOption) (*User, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is nil", ErrInvalidTransition)
	}

	from := user.AccountState()
	if target.Kind == "" || target.Kind == StateNoAccount {
		return nil, fmt.Errorf("%w: target state is empty", ErrInvalidTransition)
	}

	if target.Kind.HasToken() && target.Token == "" {
		return nil, fmt.Errorf("%w: %s requires a token", ErrInvalidTransition, target.Kind)
	}

	if from == target {
		return user, nil
	}

	options := buildTransitionOptions(opts...)

	if from.Kind == StateErased && !options.force {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTerminalState, from.Kind, target.Kind)
	}

	if !options.force && !sm.CanTransition(from.Kind, target.Kind) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from.Kind, target.Kind)
	}

	tc := TransitionContext{
		Actor: actor,
		User:  user,
		From:  from,
		To:    target,
		Meta:  options.metadata,
	}

	if err := runHooks(ctx, options.beforeHooks, tc); err != nil {
		return nil, err
	}

	now := sm.now().UTC()
	fields := Fields{
		"action_kind": string(target.Kind),
		"updated_at":  now,
	}
	if target.Kind.HasToken() {
		fields["action_token"] = target.Token
		fields["action_issued_at"] = now
	} else {
		fields["action_token"] = nil
		fields["action_issued_at"] = nil
	}
	for k, v := range options.fields {
		fields[k] = v
	}

	updated, err := sm.users.UpdateState(ctx, user.ID, from, fields)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, sm.staleTransition(ctx, user, from, target)
		}
		return nil, err
	}

	*user = *updated

	if err := runHooks(ctx, options.afterHooks, tc); err != nil {
		return nil, err
	}

	event := options.event
	if event == "" {
		event = ActivityEventStateChanged
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: event,
		Actor:     actor,
		UserID:    user.ID.String(),
		FromState: from.Kind,
		ToState:   target.Kind,
		Metadata:  transitionMetadata(options.metadata),
	})

	return user, nil
}

// staleTransition explains why a compare-and-set update matched no row.
func (sm *accountStateMachine) staleTransition(ctx context.Context, user *User, from, target AccountState) error {
	current, err := sm.users.GetByID(ctx, user.ID)
	if err != nil {
		return err
	}
	if current.State == StateErased {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalState, current.State, target.Kind)
	}
	return fmt.Errorf("%w: state changed from %s to %s", ErrInvalidTransition, from.Kind, current.AccountState().Kind)
}

// ConsumeToken clears a verification or reset token and activates the
// account holding it, applying fields in the same statement.
func (sm *accountStateMachine) ConsumeToken(ctx context.Context, token string, fields Fields, opts ...TransitionOption) (*User, error) {
	if token == "" {
		return nil, ErrTokenExpiredOrInvalid
	}

	kinds := make([]StateKind, 0, len(verificationKinds))
	for _, kind := range verificationKinds {
		if sm.CanTransition(kind, StateActive) {
			kinds = append(kinds, kind)
		}
	}

	options := buildTransitionOptions(opts...)

	patch := Fields{"updated_at": sm.now().UTC()}
	for k, v := range fields {
		patch[k] = v
	}

	var notBefore *time.Time
	if sm.tokenTTL > 0 {
		cutoff := sm.now().Add(-sm.tokenTTL)
		notBefore = &cutoff
	}

	user, err := sm.users.ConsumeActionToken(ctx, kinds, token, notBefore, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenExpiredOrInvalid
		}
		return nil, err
	}

	event := options.event
	if event == "" {
		event = ActivityEventStateChanged
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: event,
		Actor:     UserActor(user),
		UserID:    user.ID.String(),
		ToState:   StateActive,
		Metadata:  transitionMetadata(options.metadata),
	})

	return user, nil
}

func (sm *accountStateMachine) CurrentState(user *User) AccountState {
	return user.AccountState()
}

func (sm *accountStateMachine) CanTransition(from, to StateKind) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func (sm *accountStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = SystemActor
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error", "error", err, "event", event.EventType)
	}
}

func transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
