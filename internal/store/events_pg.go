package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressplay/checkout-engine/internal/events"
)

// EventRepo appends domain events to the audit log.
type EventRepo struct {
	DB *pgxpool.Pool
}

var _ events.EventStore = (*EventRepo)(nil)

func (r *EventRepo) InsertEvent(ctx context.Context, ev events.Event) (events.Event, error) {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt)
	if err != nil {
		return events.Event{}, err
	}
	return ev, nil
}
