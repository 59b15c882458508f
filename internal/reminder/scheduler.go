package reminder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jobpulse/jobpulse/internal/storage"
	"github.com/jobpulse/jobpulse/internal/window"
)

// Messenger sends a reminder with an interactive "stay active" affordance.
type Messenger interface {
	SendWithReminderAction(ctx context.Context, address, content, actionLabel string) error
}

// Scheduler decides which reminder, if any, each active window is due and
// dispatches it at most once per (user, slot, day). The reminder_log unique
// constraint is the sole duplicate-suppression mechanism; the window
// booleans are flipped only as a denormalized convenience.
type Scheduler struct {
	db        *sql.DB
	windows   *window.Manager
	messenger Messenger
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler wires the scheduler over the shared store connection.
func NewScheduler(db *sql.DB, windows *window.Manager, messenger Messenger) *Scheduler {
	return &Scheduler{
		db:        db,
		windows:   windows,
		messenger: messenger,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle walks all active windows and dispatches due reminders. Failures
// for one user are logged and never abort the cycle for the rest; only a
// store-wide listing failure is returned. Returns the dispatch count.
func (s *Scheduler) RunCycle(ctx context.Context) (int, error) {
	windows, err := s.windows.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active windows: %w", err)
	}

	now := s.now()
	day := now.Format("2006-01-02")
	dispatched := 0
	for _, w := range windows {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		st := window.Compute(w, now)
		if st.Expired {
			continue
		}
		slot, ok := SlotFor(st.HoursRemaining)
		if !ok {
			continue
		}
		due, err := s.IsDue(ctx, w.UserID, slot, day)
		if err != nil {
			s.logger.Error("reminder due-check failed", "user_id", w.UserID, "slot", slot.Label, "error", err)
			continue
		}
		if !due {
			continue
		}
		if err := s.Dispatch(ctx, w.UserID, slot); err != nil {
			s.logger.Error("reminder dispatch failed", "user_id", w.UserID, "slot", slot.Label, "error", err)
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// IsDue reports whether no reminder has fired yet for the exact
// (user, slot, day) triple.
func (s *Scheduler) IsDue(ctx context.Context, userID string, slot Slot, day string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminder_log WHERE user_id = ? AND slot = ? AND day = ?`,
		userID, slot.Label, day).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking reminder log: %w", err)
	}
	return count == 0, nil
}

// Dispatch sends the slot's reminder to the user and commits the log entry.
// A uniqueness conflict on the log insert means a concurrent dispatch
// already handled this slot; treated as success, not an error.
func (s *Scheduler) Dispatch(ctx context.Context, userID string, slot Slot) error {
	var address string
	err := s.db.QueryRowContext(ctx, `SELECT address FROM users WHERE id = ?`, userID).Scan(&address)
	if err == sql.ErrNoRows {
		return fmt.Errorf("dispatching reminder: user %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("resolving address for %s: %w", userID, err)
	}

	content, actionLabel := slot.Message()
	if err := s.messenger.SendWithReminderAction(ctx, address, content, actionLabel); err != nil {
		return fmt.Errorf("sending %s reminder to %s: %w", slot.Label, userID, err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reminder_log (id, user_id, slot, day, sent_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, slot.Label, now.Format("2006-01-02"),
		now.Format(time.RFC3339))
	if err != nil {
		if storage.IsUniqueViolation(err) {
			s.logger.Debug("reminder already logged", "user_id", userID, "slot", slot.Label)
			return nil
		}
		return fmt.Errorf("logging %s reminder for %s: %w", slot.Label, userID, err)
	}

	if slot.legacy != "" {
		if err := s.windows.MarkReminderSent(ctx, userID, slot.legacy); err != nil {
			// Log entry is the source of truth; a failed flag flip only
			// degrades the legacy status query.
			s.logger.Warn("legacy reminder flag update failed", "user_id", userID, "flag", slot.legacy, "error", err)
		}
	}
	return nil
}

// SentToday counts reminders dispatched on the scheduler's current day.
func (s *Scheduler) SentToday(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminder_log WHERE day = ?`,
		s.now().Format("2006-01-02")).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting reminders sent today: %w", err)
	}
	return count, nil
}
