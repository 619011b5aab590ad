package account

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistered        ActivityEventType = "account.registered"
	ActivityEventStateChanged      ActivityEventType = "account.state.changed"
	ActivityEventEmailVerified     ActivityEventType = "account.email.verified"
	ActivityEventLoginSuccess      ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure      ActivityEventType = "auth.login.failure"
	ActivityEventResetRequested    ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordReset     ActivityEventType = "auth.password.reset"
	ActivityEventPasswordChanged   ActivityEventType = "auth.password.changed"
	ActivityEventEmailChanged      ActivityEventType = "account.email.changed"
	ActivityEventProfileUpdated    ActivityEventType = "account.profile.updated"
	ActivityEventBlocked           ActivityEventType = "account.blocked"
	ActivityEventUnblocked         ActivityEventType = "account.unblocked"
	ActivityEventGDPRUnsubscribed  ActivityEventType = "account.gdpr.unsubscribed"
	ActivityEventNotificationError ActivityEventType = "notification.failed"
)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// SystemActor is used when no actor is supplied.
var SystemActor = ActorRef{Type: "system"}

// UserActor returns an actor reference for the account itself.
func UserActor(u *User) ActorRef {
	if u == nil {
		return SystemActor
	}
	return ActorRef{ID: u.ID.String(), Type: "user"}
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	FromState  StateKind
	ToState    StateKind
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// MultiActivitySink fans an event out to every sink, returning the first error.
func MultiActivitySink(sinks ...ActivitySink) ActivitySink {
	return ActivitySinkFunc(func(ctx context.Context, event ActivityEvent) error {
		var first error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
