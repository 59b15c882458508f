package storage

import (
	"fmt"
	"time"
)

// AppendOutcome records a per-user cycle outcome for observability.
func (s *Store) AppendOutcome(o DeliveryOutcome) error {
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO delivery_outcomes (id, cycle_id, user_id, action, reason, jobs_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CycleID, o.UserID, o.Action, o.Reason, o.JobsSent,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("appending outcome for %s: %w", o.UserID, err)
	}
	return nil
}

// ListOutcomes returns the outcomes recorded for a cycle, in insertion order.
func (s *Store) ListOutcomes(cycleID string) ([]DeliveryOutcome, error) {
	rows, err := s.db.Query(`
		SELECT id, cycle_id, user_id, action, reason, jobs_sent, created_at
		FROM delivery_outcomes WHERE cycle_id = ? ORDER BY created_at ASC, id ASC`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes for cycle %s: %w", cycleID, err)
	}
	defer rows.Close()

	var outcomes []DeliveryOutcome
	for rows.Next() {
		var o DeliveryOutcome
		var createdAt string
		if err := rows.Scan(&o.ID, &o.CycleID, &o.UserID, &o.Action, &o.Reason, &o.JobsSent, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		o.CreatedAt = t
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// PurgeOutcomes deletes outcome rows older than the horizon. Returns rows removed.
func (s *Store) PurgeOutcomes(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM delivery_outcomes WHERE created_at < ?`,
		olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purging outcomes: %w", err)
	}
	return res.RowsAffected()
}
