package reminder

import "github.com/jobpulse/jobpulse/internal/window"

// Slot is a named threshold of remaining window time at which at most one
// reminder may fire per user per day. Each slot owns a half-open band
// (lower, upper] of hours remaining; the bands tile (0, 24] with no gaps
// and no overlaps so every remaining-time value maps to exactly one slot
// or none.
type Slot struct {
	Label  string
	Hours  float64 // nominal remaining-hours threshold
	Urgent bool    // final-warning tone instead of informational

	lower, upper float64
	legacy       window.Flag // legacy window boolean to flip, if any
}

// slots is ordered by descending threshold. The 3h and 1h bands carry the
// legacy four_hour_reminder / battery_warning booleans: they cover the 4h-
// and 1h-remaining marks where those flags become due.
var slots = []Slot{
	{Label: "8h", Hours: 8, lower: 6.5, upper: 8},
	{Label: "5h", Hours: 5, lower: 4.5, upper: 6.5},
	{Label: "3h", Hours: 3, lower: 1.2, upper: 4.5, legacy: window.FlagFourHour},
	{Label: "1h", Hours: 1, lower: 0.5, upper: 1.2, legacy: window.FlagBattery},
	{Label: "15m", Hours: 0.25, lower: 0, upper: 0.5, Urgent: true},
}

// Slots returns the slot table, descending by threshold.
func Slots() []Slot {
	out := make([]Slot, len(slots))
	copy(out, slots)
	return out
}

// SlotFor maps hours of remaining window time to the slot whose band
// contains it. Returns false when no reminder is due at that distance:
// more than 8 hours left, or the window already lapsed. Pure.
func SlotFor(hoursRemaining float64) (Slot, bool) {
	if hoursRemaining <= 0 || hoursRemaining > 24 {
		return Slot{}, false
	}
	for _, s := range slots {
		if hoursRemaining > s.lower && hoursRemaining <= s.upper {
			return s, true
		}
	}
	return Slot{}, false
}

// Message returns the reminder text and the interactive action label for a
// slot. Early slots are informational; the final slot warns that the
// conversation goes quiet without a reply.
func (s Slot) Message() (content, actionLabel string) {
	switch {
	case s.Urgent:
		return "Your alert window closes in minutes. Reply with any message — even a single word — or I have to go quiet until you write again.",
			"Keep alerts coming"
	case s.Hours <= 1:
		return "Only about an hour left before I can no longer message you for free. Send any reply to keep your job alerts flowing.",
			"Stay active"
	case s.Hours <= 3:
		return "Your messaging window is running low. Reply anytime in the next few hours so I can keep sending matching jobs.",
			"Stay active"
	default:
		return "Just a heads-up: your messaging window is open for a while longer. Reply whenever you like and I'll keep the matches coming.",
			"Stay active"
	}
}
