package window

import (
	"time"

	"github.com/jobpulse/jobpulse/internal/storage"
)

// Duration is the platform's fixed conversation-window length. Expiry is
// anchored to window_start, not last_activity: the platform closes the
// window a fixed time after it opens regardless of replies.
const Duration = 24 * time.Hour

const (
	// fourHourReminderAfter is the elapsed time at which the "4 hours left"
	// nudge becomes due.
	fourHourReminderAfter = 20 * time.Hour
	// batteryWarningAfter is the elapsed time at which the final low-window
	// warning becomes due.
	batteryWarningAfter = 23 * time.Hour
)

// State describes the lifecycle position of a user's conversation window.
type State string

const (
	StateNone    State = "none"    // user has no window row yet
	StateActive  State = "active"  // window open, outbound messaging free
	StateExpired State = "expired" // window lapsed; wait for inbound contact
	// StateUnknown is reported when the store could not be read. The
	// orchestrator treats unknown as "do not send".
	StateUnknown State = "unknown"
)

// Flag names a legacy boolean reminder marker on the window row. The
// reminder log is the source of truth for slot dedup; these flags survive
// as a denormalized convenience for status queries.
type Flag string

const (
	FlagFourHour Flag = "four_hour_reminder"
	FlagBattery  Flag = "battery_warning"
)

// Status is a point-in-time snapshot derived from a window row. It never
// mutates stored state.
type Status struct {
	State                 State
	WindowID              string
	WindowStart           time.Time
	LastActivity          time.Time
	HoursElapsed          float64
	HoursRemaining        float64
	Expired               bool
	NeedsFourHourReminder bool
	NeedsBatteryWarning   bool
	FourHourReminderSent  bool
	BatteryWarningSent    bool
	MessagesInWindow      int
}

// Compute derives a Status from a window row. Pure: unit-testable without
// persistence.
func Compute(w storage.ConversationWindow, now time.Time) Status {
	elapsed := now.Sub(w.WindowStart)
	st := Status{
		State:                State(w.Status),
		WindowID:             w.ID,
		WindowStart:          w.WindowStart,
		LastActivity:         w.LastActivity,
		HoursElapsed:         elapsed.Hours(),
		HoursRemaining:       (Duration - elapsed).Hours(),
		Expired:              elapsed >= Duration,
		FourHourReminderSent: w.FourHourReminderSent,
		BatteryWarningSent:   w.BatteryWarningSent,
		MessagesInWindow:     w.MessagesInWindow,
	}
	if st.Expired {
		st.State = StateExpired
	}
	if st.State == StateActive {
		st.NeedsFourHourReminder = elapsed >= fourHourReminderAfter && !w.FourHourReminderSent
		st.NeedsBatteryWarning = elapsed >= batteryWarningAfter && !w.BatteryWarningSent
	}
	return st
}
