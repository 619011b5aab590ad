package account

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Events stores the activity trail. It is itself an ActivitySink so it can
// be passed to WithActivitySink.
type Events interface {
	ActivitySink
	ListByUser(ctx context.Context, userID string) ([]*AccountEvent, error)
}

type events struct {
	db *bun.DB
}

var _ Events = (*events)(nil)

// NewEventsRepository returns the bun backed Events repository
func NewEventsRepository(db *bun.DB) Events {
	return &events{db: db}
}

func (e *events) Record(ctx context.Context, event ActivityEvent) error {
	record := &AccountEvent{
		ID:         uuid.New(),
		UserID:     event.UserID,
		EventType:  string(event.EventType),
		ActorID:    event.Actor.ID,
		ActorType:  event.Actor.Type,
		FromState:  string(event.FromState),
		ToState:    string(event.ToState),
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt.UTC(),
	}

	_, err := e.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (e *events) ListByUser(ctx context.Context, userID string) ([]*AccountEvent, error) {
	records := []*AccountEvent{}
	err := e.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("occurred_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
