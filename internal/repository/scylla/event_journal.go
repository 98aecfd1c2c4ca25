package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
)

// EventJournal appends call activity records to Scylla. The journal is
// write-only from the service side and is retained for audit review.
type EventJournal struct {
	session *gocql.Session
}

// NewEventJournal creates a new journal.
func NewEventJournal(session *gocql.Session) *EventJournal {
	return &EventJournal{session: session}
}

// Append writes one event row, partitioned per call and day bucket.
func (j *EventJournal) Append(ctx context.Context, event domain.CallEvent) error {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	if err := j.session.Query(`INSERT INTO call_events (call_id, bucket, occurred_at, kind, attempt, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.CallID.String(), bucketDate(occurredAt), occurredAt, event.Kind, event.Attempt, event.Detail,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("event journal: append: %w", err)
	}
	return nil
}

// ListByCall reads a call's events in order, newest bucket first.
func (j *EventJournal) ListByCall(ctx context.Context, callID string, limit int) ([]domain.CallEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := j.session.Query(`SELECT call_id, occurred_at, kind, attempt, detail
		FROM call_events WHERE call_id = ? LIMIT ?`, callID, limit).WithContext(ctx).Iter()

	events := make([]domain.CallEvent, 0, limit)
	var (
		idStr      string
		occurredAt time.Time
		kind       string
		attempt    int
		detail     string
	)
	for iter.Scan(&idStr, &occurredAt, &kind, &attempt, &detail) {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		events = append(events, domain.CallEvent{
			CallID:     id,
			Kind:       kind,
			Attempt:    attempt,
			Detail:     detail,
			OccurredAt: occurredAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("event journal: iter close: %w", err)
	}
	return events, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
