package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobpulse/jobpulse/internal/storage"
)

// Ledger is the durable record of which job was shown to which user. Its
// (user_id, job_id) uniqueness constraint is what prevents repeat sends.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New wraps the shared store connection for ledger operations.
func New(db *sql.DB) *Ledger {
	return &Ledger{
		db:     db,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HasSeen reports whether the user has already been shown the job.
func (l *Ledger) HasSeen(ctx context.Context, userID, jobID string) (bool, error) {
	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_records WHERE user_id = ? AND job_id = ?`,
		userID, jobID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking ledger for (%s, %s): %w", userID, jobID, err)
	}
	return count > 0, nil
}

// MarkShown upserts the delivery record for (user, job). A repeat send
// updates the existing row's timestamp, score, and channel rather than
// duplicating it. Write failures propagate: the caller must not pretend a
// send was recorded.
func (l *Ledger) MarkShown(ctx context.Context, userID, jobID string, score float64, channel string) error {
	now := l.now().Format(time.RFC3339)
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO delivery_records (id, user_id, job_id, shown_at, score, channel)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, job_id) DO UPDATE SET
			shown_at = excluded.shown_at,
			score = excluded.score,
			channel = excluded.channel`,
		uuid.New().String(), userID, jobID, now, score, channel)
	if err != nil {
		return fmt.Errorf("marking (%s, %s) shown: %w", userID, jobID, err)
	}
	return nil
}

// FilterUnseen removes jobs the user has already been shown. On read
// failure it fails open and returns the full unfiltered list: over-delivery
// beats silently dropping candidates, which is the complaint this subsystem
// exists to prevent.
func (l *Ledger) FilterUnseen(ctx context.Context, userID string, candidates []storage.JobPosting) []storage.JobPosting {
	if len(candidates) == 0 {
		return candidates
	}

	args := make([]any, 0, len(candidates)+1)
	args = append(args, userID)
	for _, j := range candidates {
		args = append(args, j.ID)
	}
	query := `SELECT job_id FROM delivery_records WHERE user_id = ? AND job_id IN (?` +
		strings.Repeat(",?", len(candidates)-1) + `)`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		l.logger.Warn("ledger read failed, returning unfiltered candidates", "user_id", userID, "error", err)
		return candidates
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var jobID string
		if err := rows.Scan(&jobID); err != nil {
			l.logger.Warn("ledger scan failed, returning unfiltered candidates", "user_id", userID, "error", err)
			return candidates
		}
		seen[jobID] = true
	}
	if err := rows.Err(); err != nil {
		l.logger.Warn("ledger iteration failed, returning unfiltered candidates", "user_id", userID, "error", err)
		return candidates
	}

	unseen := make([]storage.JobPosting, 0, len(candidates))
	for _, j := range candidates {
		if !seen[j.ID] {
			unseen = append(unseen, j)
		}
	}
	return unseen
}

// CountShown returns how many jobs the user was shown in the last sinceDays.
func (l *Ledger) CountShown(ctx context.Context, userID string, sinceDays int) (int, error) {
	cutoff := l.now().AddDate(0, 0, -sinceDays)
	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_records WHERE user_id = ? AND shown_at >= ?`,
		userID, cutoff.Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting deliveries for %s: %w", userID, err)
	}
	return count, nil
}

// ShouldSendMore reports whether the user is under the daily delivery cap,
// and how much headroom remains.
func (l *Ledger) ShouldSendMore(ctx context.Context, userID string, maxPerDay int) (bool, int, error) {
	sent, err := l.CountShown(ctx, userID, 1)
	if err != nil {
		return false, 0, err
	}
	remaining := maxPerDay - sent
	if remaining < 0 {
		remaining = 0
	}
	return remaining > 0, remaining, nil
}

// Cleanup purges delivery records older than the retention horizon.
func (l *Ledger) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := l.now().AddDate(0, 0, -olderThanDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM delivery_records WHERE shown_at < ?`, cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("cleaning up delivery records: %w", err)
	}
	return res.RowsAffected()
}
