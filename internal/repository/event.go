package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akave-ai/incidentd/internal/model"
)

// EventRepository appends and reads incident audit events in Postgres.
type EventRepository struct {
	db querier
}

// NewEventRepository returns an EventRepository using the given pool.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: pool}
}

// Append inserts ev and sets its ID and CreatedAt.
func (r *EventRepository) Append(ctx context.Context, ev *model.IncidentEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO incident_events (id, incident_id, event_type, note, occurred_at, trace_id, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		ev.ID,
		ev.IncidentID,
		ev.Type,
		nullText(ev.Note),
		ev.OccurredAt,
		nullText(ev.TraceID),
		nullText(ev.Message),
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append incident event: %w", err)
	}
	return nil
}

// ListByIncident returns up to limit events, newest occurred_at first.
func (r *EventRepository) ListByIncident(ctx context.Context, incidentID uuid.UUID, limit int) ([]model.IncidentEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, incident_id, event_type, note, occurred_at, trace_id, message, created_at
		FROM incident_events
		WHERE incident_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, incidentID, eventsLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list incident events: %w", err)
	}
	defer rows.Close()

	var list []model.IncidentEvent
	for rows.Next() {
		var (
			ev                     model.IncidentEvent
			note, traceID, message pgtype.Text
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.IncidentID,
			&ev.Type,
			&note,
			&ev.OccurredAt,
			&traceID,
			&message,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		ev.Note = note.String
		ev.TraceID = traceID.String
		ev.Message = message.String
		list = append(list, ev)
	}
	return list, rows.Err()
}
