package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jobpulse/jobpulse/internal/ledger"
	"github.com/jobpulse/jobpulse/internal/matching"
	"github.com/jobpulse/jobpulse/internal/reminder"
	"github.com/jobpulse/jobpulse/internal/storage"
	"github.com/jobpulse/jobpulse/internal/window"
)

type mockMessenger struct {
	mu     sync.Mutex
	sends  []string // "address|first line of body"
	sendFn func(ctx context.Context, address, content string) error
}

func (m *mockMessenger) Send(ctx context.Context, address, content string) error {
	if m.sendFn != nil {
		return m.sendFn(ctx, address, content)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	first, _, _ := strings.Cut(content, "\n")
	m.sends = append(m.sends, address+"|"+first)
	return nil
}

func (m *mockMessenger) SendWithReminderAction(ctx context.Context, address, content, actionLabel string) error {
	return m.Send(ctx, address, content)
}

func (m *mockMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

type testEngine struct {
	store   *storage.Store
	windows *window.Manager
	ledger  *ledger.Ledger
	msgr    *mockMessenger
	orch    *Orchestrator
}

func newTestEngine(t *testing.T, opts Options) *testEngine {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	windows := window.NewManager(store.DB())
	ldg := ledger.New(store.DB())
	// No provider: ranking runs on the keyword scorer, which is
	// deterministic and needs no network.
	matcher := matching.New(nil, store, matching.Options{})
	msgr := &mockMessenger{}
	reminders := reminder.NewScheduler(store.DB(), windows, msgr)
	orch := New(store, windows, ldg, matcher, reminders, msgr, opts)

	return &testEngine{store: store, windows: windows, ledger: ldg, msgr: msgr, orch: orch}
}

func (e *testEngine) addUser(t *testing.T, id string, confirmed, activeWindow bool) {
	t.Helper()
	if _, err := e.store.UpsertUser("addr-"+id, "Test", id); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	p := storage.UserPreferences{
		UserID:    id,
		Roles:     `["backend engineer"]`,
		Skills:    `["Go"]`,
		Locations: `["Berlin"]`,
		Confirmed: confirmed,
	}
	if err := e.store.SavePreferences(p); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}
	if activeWindow {
		if _, err := e.windows.StartWindow(context.Background(), id); err != nil {
			t.Fatalf("StartWindow: %v", err)
		}
	}
}

func (e *testEngine) addJob(t *testing.T, id string) {
	t.Helper()
	j := storage.JobPosting{
		ID:       id,
		Title:    "Backend Engineer",
		Company:  "Acme",
		Location: "Berlin",
		Skills:   `["Go"]`,
		Summary:  "Build services in Go.",
		PostedAt: time.Now().UTC(),
	}
	if err := e.store.SaveJob(j); err != nil {
		t.Fatalf("SaveJob %s: %v", id, err)
	}
}

func TestRunCycle_SendsOnlyUnseenJobs(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.addUser(t, "u-1", true, true)
	e.addJob(t, "j-1")
	e.addJob(t, "j-2")

	// j-1 was already delivered in a previous cycle.
	if err := e.ledger.MarkShown(context.Background(), "u-1", "j-1", 0.9, "initial_batch"); err != nil {
		t.Fatalf("MarkShown: %v", err)
	}

	report, err := e.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("Sent = %d, want 1", report.Sent)
	}

	seen, err := e.ledger.HasSeen(context.Background(), "u-1", "j-2")
	if err != nil {
		t.Fatalf("HasSeen: %v", err)
	}
	if !seen {
		t.Error("j-2 delivery not recorded in the ledger")
	}

	// A second cycle finds nothing unseen and sends nothing.
	report, err = e.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if report.Sent != 0 {
		t.Errorf("second cycle Sent = %d, want 0", report.Sent)
	}
	if e.msgr.count() != 1 {
		t.Errorf("total messages = %d, want 1", e.msgr.count())
	}
}

func TestRunCycle_EligibilityIsConjunction(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.addJob(t, "j-1")

	// Confirmed prefs but no window.
	e.addUser(t, "u-no-window", true, false)
	// Active window but unconfirmed prefs.
	e.addUser(t, "u-unconfirmed", false, true)
	// Both.
	e.addUser(t, "u-ok", true, true)

	report, err := e.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Eligible != 1 {
		t.Errorf("Eligible = %d, want 1", report.Eligible)
	}
	if e.msgr.count() != 1 {
		t.Fatalf("messages = %d, want 1", e.msgr.count())
	}
	if !strings.HasPrefix(e.msgr.sends[0], "addr-u-ok|") {
		t.Errorf("delivered to %s, want addr-u-ok", e.msgr.sends[0])
	}

	outcomes, err := e.store.ListOutcomes(report.CycleID)
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	byUser := make(map[string]storage.DeliveryOutcome)
	for _, o := range outcomes {
		byUser[o.UserID] = o
	}
	if o := byUser["u-no-window"]; o.Action != "skipped" || o.Reason != "no_window" {
		t.Errorf("u-no-window outcome = %+v", o)
	}
	if _, ok := byUser["u-unconfirmed"]; ok {
		t.Error("unconfirmed user reached the cycle loop")
	}
}

func TestRunCycle_ExpiredWindowSkipped(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.addJob(t, "j-1")
	e.addUser(t, "u-1", true, true)

	start := time.Now().UTC().Add(-25 * time.Hour).Format(time.RFC3339)
	if _, err := e.store.DB().Exec(
		`UPDATE conversation_windows SET window_start = ?, last_activity = ? WHERE user_id = 'u-1'`,
		start, start); err != nil {
		t.Fatalf("backdating window: %v", err)
	}

	report, err := e.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Sent != 0 {
		t.Errorf("Sent = %d, want 0 for an expired window", report.Sent)
	}
	if e.msgr.count() != 0 {
		t.Errorf("messages = %d, want 0", e.msgr.count())
	}
}

func TestRunCycle_DailyQuotaCapsDeliveries(t *testing.T) {
	e := newTestEngine(t, Options{MaxJobsPerDay: 2, TopN: 10})
	e.addUser(t, "u-1", true, true)
	for i := 1; i <= 5; i++ {
		e.addJob(t, fmt.Sprintf("j-%d", i))
	}

	report, err := e.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Sent != 2 {
		t.Fatalf("Sent = %d, want 2 (quota)", report.Sent)
	}
	if report.Eligible != 1 {
		t.Errorf("Eligible = %d, want 1", report.Eligible)
	}

	// Quota exhausted for the day: next cycle skips the user, but the
	// user still counts as eligible (live window, confirmed prefs).
	report, err = e.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if report.Sent != 0 {
		t.Errorf("second cycle Sent = %d, want 0", report.Sent)
	}
	if report.Eligible != 1 {
		t.Errorf("second cycle Eligible = %d, want 1", report.Eligible)
	}
	outcomes, err := e.store.ListOutcomes(report.CycleID)
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Reason != "daily_quota_reached" {
		t.Errorf("outcomes = %+v, want daily_quota_reached", outcomes)
	}
}

func TestRunCycle_SendFailureLeavesJobUnrecorded(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.addUser(t, "u-1", true, true)
	e.addJob(t, "j-1")
	e.msgr.sendFn = func(context.Context, string, string) error {
		return fmt.Errorf("platform unavailable")
	}

	report, err := e.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Errors != 1 {
		t.Errorf("Errors = %d, want 1", report.Errors)
	}

	// The unsent job must surface again once the platform recovers.
	seen, err := e.ledger.HasSeen(context.Background(), "u-1", "j-1")
	if err != nil {
		t.Fatalf("HasSeen: %v", err)
	}
	if seen {
		t.Error("failed send recorded in the ledger")
	}

	e.msgr.sendFn = nil
	report, err = e.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("retry RunCycle: %v", err)
	}
	if report.Sent != 1 {
		t.Errorf("retry Sent = %d, want 1", report.Sent)
	}
}

func TestRunCycle_RejectsOverlap(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.orch.mu.Lock()
	e.orch.running = true
	e.orch.mu.Unlock()

	if _, err := e.orch.RunCycle(context.Background()); err != ErrCycleRunning {
		t.Fatalf("RunCycle = %v, want ErrCycleRunning", err)
	}
}

func TestHandleInbound_CreatesUserAndWindow(t *testing.T) {
	e := newTestEngine(t, Options{})

	st, err := e.orch.HandleInbound(context.Background(), "+4915112345678", "Ada", "hi")
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if st.State != window.StateActive {
		t.Fatalf("State = %q, want %q", st.State, window.StateActive)
	}
	if st.MessagesInWindow != 1 {
		t.Errorf("MessagesInWindow = %d, want 1", st.MessagesInWindow)
	}

	// A second message refreshes the same window.
	st, err = e.orch.HandleInbound(context.Background(), "+4915112345678", "", "still here")
	if err != nil {
		t.Fatalf("second HandleInbound: %v", err)
	}
	if st.MessagesInWindow != 2 {
		t.Errorf("MessagesInWindow = %d, want 2", st.MessagesInWindow)
	}

	user, err := e.store.GetUserByAddress("+4915112345678")
	if err != nil {
		t.Fatalf("GetUserByAddress: %v", err)
	}
	if user.DisplayName != "Ada" {
		t.Errorf("DisplayName = %q, want Ada", user.DisplayName)
	}
}

func TestStatus_ReportsEligibilityAndCoverage(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.addUser(t, "u-eligible", true, true)
	e.addUser(t, "u-no-window", true, false)
	e.addUser(t, "u-unconfirmed", false, true)

	st, err := e.orch.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.EligibleUsers != 1 {
		t.Errorf("EligibleUsers = %d, want 1", st.EligibleUsers)
	}
	if st.ActiveWindows != 2 {
		t.Errorf("ActiveWindows = %d, want 2", st.ActiveWindows)
	}
	if st.CycleInProgress {
		t.Error("CycleInProgress = true with no cycle running")
	}
}

func TestTruncate_NeverSplitsRunes(t *testing.T) {
	s := strings.Repeat("Straße für Köche ", 10)
	for max := 1; max < len(s); max++ {
		got := truncate(s, max)
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(..., %d) produced invalid UTF-8: %q", max, got)
		}
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short, 10) = %q, want unchanged", got)
	}
}

func TestPreview_NeverSplitsRunes(t *testing.T) {
	long := strings.Repeat("日本語のメッセージ", 4)
	got := preview(long)
	if !utf8.ValidString(got) {
		t.Fatalf("preview produced invalid UTF-8: %q", got)
	}
	if len(got) > 48 {
		t.Errorf("preview length = %d bytes, want at most 48", len(got))
	}
	if got := preview("  hi  "); got != "hi" {
		t.Errorf("preview = %q, want trimmed %q", got, "hi")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"unique violation", fmt.Errorf("step: UNIQUE constraint failed: reminder_log.user_id"), KindConstraint},
		{"deadline", context.DeadlineExceeded, KindTransientStore},
		{"locked", fmt.Errorf("database is locked"), KindTransientStore},
		{"integrity", errIntegrity{msg: "flag without window"}, KindIntegrity},
		{"other", fmt.Errorf("something else"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}
