// Package activitymap flattens the account activity trail into a generic
// feed entry shape for audit exports and downstream systems.
package activitymap

import (
	"strings"
	"time"

	account "github.com/goliatone/go-account"
)

const (
	// MetadataKeyActorType carries the actor type of the event
	MetadataKeyActorType = "actor_type"
	// MetadataKeyFromState carries the source state of a transition
	MetadataKeyFromState = "from_state"
	// MetadataKeyToState carries the target state of a transition
	MetadataKeyToState = "to_state"
)

const (
	defaultChannel    = "account"
	defaultObjectType = "account"
	defaultActorID    = "system"
)

// Entry is one feed item.
type Entry struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes the mapping
type Option func(*options)

type options struct {
	channel       string
	objectType    string
	actorFallback string
	redact        map[string]bool
}

// WithChannel sets the channel stamped on every entry.
func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType sets the object type stamped on every entry.
func WithObjectType(objectType string) Option {
	return func(o *options) {
		o.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback is used when neither the actor nor the account id is
// known, e.g. a failed login for an unknown email.
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithRedactedKeys drops metadata keys from the output.
func WithRedactedKeys(keys ...string) Option {
	return func(o *options) {
		for _, k := range keys {
			o.redact[k] = true
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		redact:        map[string]bool{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// FromActivity maps an in-flight event.
func FromActivity(event account.ActivityEvent, opts ...Option) Entry {
	return build(buildOptions(opts), record{
		actorID:    event.Actor.ID,
		actorType:  event.Actor.Type,
		userID:     event.UserID,
		verb:       string(event.EventType),
		fromState:  string(event.FromState),
		toState:    string(event.ToState),
		metadata:   event.Metadata,
		occurredAt: event.OccurredAt,
	})
}

// FromRecord maps a persisted event.
func FromRecord(event *account.AccountEvent, opts ...Option) Entry {
	if event == nil {
		return Entry{}
	}
	return build(buildOptions(opts), record{
		actorID:    event.ActorID,
		actorType:  event.ActorType,
		userID:     event.UserID,
		verb:       event.EventType,
		fromState:  event.FromState,
		toState:    event.ToState,
		metadata:   event.Metadata,
		occurredAt: event.OccurredAt,
	})
}

// FromRecords maps a whole trail, keeping its order.
func FromRecords(events []*account.AccountEvent, opts ...Option) []Entry {
	o := buildOptions(opts)
	out := make([]Entry, 0, len(events))
	for _, event := range events {
		if event == nil {
			continue
		}
		out = append(out, build(o, record{
			actorID:    event.ActorID,
			actorType:  event.ActorType,
			userID:     event.UserID,
			verb:       event.EventType,
			fromState:  event.FromState,
			toState:    event.ToState,
			metadata:   event.Metadata,
			occurredAt: event.OccurredAt,
		}))
	}
	return out
}

type record struct {
	actorID    string
	actorType  string
	userID     string
	verb       string
	fromState  string
	toState    string
	metadata   map[string]any
	occurredAt time.Time
}

func build(o options, r record) Entry {
	occurredAt := r.occurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Entry{
		ActorID:    firstNonEmpty(strings.TrimSpace(r.actorID), strings.TrimSpace(r.userID), o.actorFallback),
		Verb:       r.verb,
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(r.userID),
		Channel:    o.channel,
		Metadata:   metadata(o, r),
		OccurredAt: occurredAt,
	}
}

func metadata(o options, r record) map[string]any {
	out := map[string]any{}
	for k, v := range r.metadata {
		if !o.redact[k] {
			out[k] = v
		}
	}

	if actorType := strings.TrimSpace(r.actorType); actorType != "" {
		if _, ok := out[MetadataKeyActorType]; !ok {
			out[MetadataKeyActorType] = actorType
		}
	}
	if r.fromState != "" {
		out[MetadataKeyFromState] = r.fromState
	}
	if r.toState != "" {
		out[MetadataKeyToState] = r.toState
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
