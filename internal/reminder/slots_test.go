package reminder

import (
	"testing"

	"github.com/jobpulse/jobpulse/internal/window"
)

func TestSlotFor_Boundaries(t *testing.T) {
	cases := []struct {
		hours float64
		label string
		ok    bool
	}{
		{24, "", false},
		{8.01, "", false},
		{8, "8h", true},
		{6.51, "8h", true},
		{6.5, "5h", true},
		{5, "5h", true},
		{4.51, "5h", true},
		{4.5, "3h", true},
		{3, "3h", true},
		{1.21, "3h", true},
		{1.2, "1h", true},
		{1, "1h", true},
		{0.51, "1h", true},
		{0.5, "15m", true},
		{0.25, "15m", true},
		{0.01, "15m", true},
		{0, "", false},
		{-1, "", false},
		{25, "", false},
	}
	for _, tc := range cases {
		slot, ok := SlotFor(tc.hours)
		if ok != tc.ok {
			t.Errorf("SlotFor(%v) ok = %v, want %v", tc.hours, ok, tc.ok)
			continue
		}
		if ok && slot.Label != tc.label {
			t.Errorf("SlotFor(%v) = %q, want %q", tc.hours, slot.Label, tc.label)
		}
	}
}

func TestSlotFor_BandsTileWithoutGapsOrOverlaps(t *testing.T) {
	// Dense sweep over (0, 24]: every value maps to at most one slot, and
	// everything at 8h or below maps to exactly one.
	const step = 0.001
	for i := 1; i <= 24000; i++ {
		h := float64(i) * step
		slot, ok := SlotFor(h)
		if h <= 8 {
			if !ok {
				t.Fatalf("SlotFor(%v) found no slot inside the reminder range", h)
			}
			if h <= slot.lower || h > slot.upper {
				t.Fatalf("SlotFor(%v) = %q with band (%v, %v]", h, slot.Label, slot.lower, slot.upper)
			}
		} else if ok {
			t.Fatalf("SlotFor(%v) = %q, want none above 8h", h, slot.Label)
		}
	}
}

func TestSlots_DescendingAndLegacyFlags(t *testing.T) {
	all := Slots()
	if len(all) != 5 {
		t.Fatalf("len(Slots()) = %d, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Hours >= all[i-1].Hours {
			t.Errorf("slot %q (%vh) not below %q (%vh)", all[i].Label, all[i].Hours, all[i-1].Label, all[i-1].Hours)
		}
	}

	byLabel := make(map[string]Slot)
	for _, s := range all {
		byLabel[s.Label] = s
	}
	if byLabel["3h"].legacy != window.FlagFourHour {
		t.Errorf("3h legacy flag = %q, want %q", byLabel["3h"].legacy, window.FlagFourHour)
	}
	if byLabel["1h"].legacy != window.FlagBattery {
		t.Errorf("1h legacy flag = %q, want %q", byLabel["1h"].legacy, window.FlagBattery)
	}
	if !byLabel["15m"].Urgent {
		t.Error("15m slot must be urgent")
	}
}

func TestSlotMessage_UrgencyVariesTone(t *testing.T) {
	for _, s := range Slots() {
		content, action := s.Message()
		if content == "" || action == "" {
			t.Errorf("slot %q produced empty message or action", s.Label)
		}
	}
	urgent, _ := SlotFor(0.2)
	content, _ := urgent.Message()
	relaxed, _ := SlotFor(7)
	relaxedContent, _ := relaxed.Message()
	if content == relaxedContent {
		t.Error("urgent and relaxed slots share the same copy")
	}
}
