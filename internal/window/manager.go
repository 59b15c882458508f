package window

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobpulse/jobpulse/internal/storage"
)

const windowColumns = `id, user_id, window_start, last_activity, status,
	four_hour_reminder_sent, battery_warning_sent, messages_in_window`

// Manager owns all conversation-window mutations. Every transition runs in
// its own transaction so webhook-driven activity and the cycle loop cannot
// interleave half-applied state for the same user; the partial unique index
// on (user_id) WHERE status='active' is the final arbiter of the
// one-active-window invariant.
type Manager struct {
	db  *sql.DB
	now func() time.Time
}

// NewManager wraps the shared store connection for window operations.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// StartWindow expires any existing active window for the user and inserts a
// fresh one with messages_in_window = 1. The expire-then-insert pair is
// atomic with respect to concurrent calls for the same user.
func (m *Manager) StartWindow(ctx context.Context, userID string) (storage.ConversationWindow, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.ConversationWindow{}, fmt.Errorf("beginning start-window transaction: %w", err)
	}
	defer tx.Rollback()

	w, err := m.startWindowTx(ctx, tx, userID)
	if err != nil {
		return storage.ConversationWindow{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.ConversationWindow{}, fmt.Errorf("committing start-window: %w", err)
	}
	return w, nil
}

func (m *Manager) startWindowTx(ctx context.Context, tx *sql.Tx, userID string) (storage.ConversationWindow, error) {
	now := m.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversation_windows SET status = 'expired' WHERE user_id = ? AND status = 'active'`,
		userID); err != nil {
		return storage.ConversationWindow{}, fmt.Errorf("expiring previous window for %s: %w", userID, err)
	}

	w := storage.ConversationWindow{
		ID:               uuid.New().String(),
		UserID:           userID,
		WindowStart:      now,
		LastActivity:     now,
		Status:           string(StateActive),
		MessagesInWindow: 1,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_windows
			(id, user_id, window_start, last_activity, status,
			 four_hour_reminder_sent, battery_warning_sent, messages_in_window)
		VALUES (?, ?, ?, ?, 'active', 0, 0, 1)`,
		w.ID, userID, now.Format(time.RFC3339), now.Format(time.RFC3339),
	); err != nil {
		return storage.ConversationWindow{}, fmt.Errorf("inserting window for %s: %w", userID, err)
	}
	return w, nil
}

// RecordActivity refreshes the active window on an inbound message, or
// starts one if none exists. This is the sole mechanism for resetting the
// clock and must be invoked on every inbound message. An active row whose
// 24h have already elapsed is never refreshed: the platform has opened a
// fresh window for this message, so a new row starts with a new clock even
// if the overdue sweep has not caught the stale row yet.
func (m *Manager) RecordActivity(ctx context.Context, userID string) (storage.ConversationWindow, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.ConversationWindow{}, fmt.Errorf("beginning activity transaction: %w", err)
	}
	defer tx.Rollback()

	now := m.now()
	cutoff := now.Add(-Duration)
	res, err := tx.ExecContext(ctx, `
		UPDATE conversation_windows
		SET last_activity = ?, messages_in_window = messages_in_window + 1
		WHERE user_id = ? AND status = 'active' AND window_start > ?`,
		now.Format(time.RFC3339), userID, cutoff.Format(time.RFC3339))
	if err != nil {
		return storage.ConversationWindow{}, fmt.Errorf("recording activity for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.ConversationWindow{}, err
	}

	var w storage.ConversationWindow
	if n == 0 {
		w, err = m.startWindowTx(ctx, tx, userID)
		if err != nil {
			return storage.ConversationWindow{}, err
		}
	} else {
		w, err = scanWindow(tx.QueryRowContext(ctx,
			`SELECT `+windowColumns+` FROM conversation_windows WHERE user_id = ? AND status = 'active'`,
			userID).Scan)
		if err != nil {
			return storage.ConversationWindow{}, fmt.Errorf("reading refreshed window for %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.ConversationWindow{}, fmt.Errorf("committing activity: %w", err)
	}
	return w, nil
}

// RecordOutbound bumps the message counter for an outbound send. Sends are
// outbound-only: they never refresh last_activity or reopen the window.
func (m *Manager) RecordOutbound(ctx context.Context, userID string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE conversation_windows
		SET messages_in_window = messages_in_window + 1
		WHERE user_id = ? AND status = 'active'`, userID)
	if err != nil {
		return fmt.Errorf("recording outbound for %s: %w", userID, err)
	}
	return nil
}

// GetStatus returns a snapshot for the user's current window. On read
// failure it returns StateUnknown together with the error so callers never
// mistake a store problem for "no window".
func (m *Manager) GetStatus(ctx context.Context, userID string) (Status, error) {
	w, err := scanWindow(m.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+` FROM conversation_windows
		WHERE user_id = ? ORDER BY window_start DESC LIMIT 1`, userID).Scan)
	if err == sql.ErrNoRows {
		return Status{State: StateNone}, nil
	}
	if err != nil {
		return Status{State: StateUnknown}, fmt.Errorf("reading window for %s: %w", userID, err)
	}
	return Compute(w, m.now()), nil
}

// MarkReminderSent idempotently sets the named legacy flag on the current
// active window.
func (m *Manager) MarkReminderSent(ctx context.Context, userID string, flag Flag) error {
	var column string
	switch flag {
	case FlagFourHour:
		column = "four_hour_reminder_sent"
	case FlagBattery:
		column = "battery_warning_sent"
	default:
		return fmt.Errorf("unknown reminder flag %q", flag)
	}
	_, err := m.db.ExecContext(ctx,
		`UPDATE conversation_windows SET `+column+` = 1 WHERE user_id = ? AND status = 'active'`,
		userID)
	if err != nil {
		return fmt.Errorf("marking %s for %s: %w", flag, userID, err)
	}
	return nil
}

// Expire transitions the user's active window to expired without waiting
// for the next inbound message.
func (m *Manager) Expire(ctx context.Context, userID string) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE conversation_windows SET status = 'expired' WHERE user_id = ? AND status = 'active'`,
		userID)
	if err != nil {
		return fmt.Errorf("expiring window for %s: %w", userID, err)
	}
	return nil
}

// ExpireOverdue marks every active window past the 24h horizon as expired.
// Returns the number of windows swept.
func (m *Manager) ExpireOverdue(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-Duration)
	res, err := m.db.ExecContext(ctx,
		`UPDATE conversation_windows SET status = 'expired'
		 WHERE status = 'active' AND window_start <= ?`,
		cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("sweeping overdue windows: %w", err)
	}
	return res.RowsAffected()
}

// Cleanup purges window rows whose window_start predates the retention
// horizon, regardless of status.
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := m.now().AddDate(0, 0, -olderThanDays)
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM conversation_windows WHERE window_start < ?`,
		cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("cleaning up windows: %w", err)
	}
	return res.RowsAffected()
}

// ListActive returns all currently-active window rows, oldest start first.
// The reminder scheduler iterates this set each cycle.
func (m *Manager) ListActive(ctx context.Context) ([]storage.ConversationWindow, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+windowColumns+` FROM conversation_windows WHERE status = 'active' ORDER BY window_start ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying active windows: %w", err)
	}
	defer rows.Close()

	var windows []storage.ConversationWindow
	for rows.Next() {
		w, err := scanWindow(rows.Scan)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func scanWindow(scan func(dest ...any) error) (storage.ConversationWindow, error) {
	var w storage.ConversationWindow
	var windowStart, lastActivity string
	var fourHour, battery int
	err := scan(&w.ID, &w.UserID, &windowStart, &lastActivity, &w.Status,
		&fourHour, &battery, &w.MessagesInWindow)
	if err != nil {
		return storage.ConversationWindow{}, err
	}
	w.FourHourReminderSent = fourHour != 0
	w.BatteryWarningSent = battery != 0
	t, err := time.Parse(time.RFC3339, windowStart)
	if err != nil {
		return storage.ConversationWindow{}, fmt.Errorf("parsing window_start: %w", err)
	}
	w.WindowStart = t
	t, err = time.Parse(time.RFC3339, lastActivity)
	if err != nil {
		return storage.ConversationWindow{}, fmt.Errorf("parsing last_activity: %w", err)
	}
	w.LastActivity = t
	return w, nil
}
