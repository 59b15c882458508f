// Package orchestrator runs the delivery cycle: decide who is eligible,
// rank candidates, filter against the ledger, send under the daily cap,
// and record what happened to every user.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jobpulse/jobpulse/internal/ledger"
	"github.com/jobpulse/jobpulse/internal/matching"
	"github.com/jobpulse/jobpulse/internal/reminder"
	"github.com/jobpulse/jobpulse/internal/storage"
	"github.com/jobpulse/jobpulse/internal/window"
)

// Messenger sends a plain job-alert message to a user's address.
type Messenger interface {
	Send(ctx context.Context, address, content string) error
}

// Options tunes the orchestrator. Zero values pick the defaults below.
type Options struct {
	MaxJobsPerDay    int           // per-user daily delivery cap (default 5)
	TopN             int           // ranked candidates kept per user (default 3)
	CandidatePool    int           // recent postings considered per cycle (default 200)
	SendConcurrency  int64         // simultaneous platform sends (default 2)
	SendTimeout      time.Duration // per-send budget (default 15s)
	WindowRetention  int           // days before window rows are purged (default 7)
	LedgerRetention  int           // days before delivery records are purged (default 90)
	OutcomeRetention int           // days before outcome rows are purged (default 30)
}

func (o *Options) applyDefaults() {
	if o.MaxJobsPerDay <= 0 {
		o.MaxJobsPerDay = 5
	}
	if o.TopN <= 0 {
		o.TopN = 3
	}
	if o.CandidatePool <= 0 {
		o.CandidatePool = 200
	}
	if o.SendConcurrency <= 0 {
		o.SendConcurrency = 2
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 15 * time.Second
	}
	if o.WindowRetention <= 0 {
		o.WindowRetention = 7
	}
	if o.LedgerRetention <= 0 {
		o.LedgerRetention = 90
	}
	if o.OutcomeRetention <= 0 {
		o.OutcomeRetention = 30
	}
}

// Orchestrator ties the window manager, matcher, ledger, and reminder
// scheduler into the periodic delivery cycle.
type Orchestrator struct {
	store     *storage.Store
	windows   *window.Manager
	ledger    *ledger.Ledger
	matcher   *matching.Matcher
	reminders *reminder.Scheduler
	messenger Messenger
	sendSem   *semaphore.Weighted
	opts      Options
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	running   bool
	lastSweep time.Time
}

// New wires the orchestrator. All collaborators share the single store
// connection opened at startup.
func New(store *storage.Store, windows *window.Manager, ldg *ledger.Ledger,
	matcher *matching.Matcher, reminders *reminder.Scheduler, messenger Messenger,
	opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		store:     store,
		windows:   windows,
		ledger:    ldg,
		matcher:   matcher,
		reminders: reminders,
		messenger: messenger,
		sendSem:   semaphore.NewWeighted(opts.SendConcurrency),
		opts:      opts,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CycleReport summarizes one delivery cycle.
type CycleReport struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Eligible  int // confirmed users with a live window, sent to or not
	Sent      int // total job messages delivered
	Reminders int
	Skipped   int
	Errors    int
}

// RunCycle executes one full delivery pass: expire overdue windows, walk
// every confirmed user, deliver ranked unseen jobs to those with a live
// window, then run the reminder pass and (at most daily) the retention
// sweeps. One user's failure never aborts the cycle for the rest; only
// store-wide listing failures are returned. Concurrent invocations are
// rejected with ErrCycleRunning rather than queued.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return CycleReport{}, ErrCycleRunning
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	report := CycleReport{CycleID: uuid.New().String(), StartedAt: o.now()}
	log := o.logger.With("cycle_id", report.CycleID)
	log.Info("delivery cycle starting")

	if swept, err := o.windows.ExpireOverdue(ctx); err != nil {
		log.Error("overdue window sweep failed", "error", err)
	} else if swept > 0 {
		log.Info("expired overdue windows", "count", swept)
	}

	prefsList, err := o.store.ListConfirmedPreferences()
	if err != nil {
		return report, fmt.Errorf("listing confirmed preferences: %w", err)
	}
	candidates, err := o.store.ListRecentJobs(o.opts.CandidatePool)
	if err != nil {
		return report, fmt.Errorf("listing candidate jobs: %w", err)
	}

	processed := 0
	for _, prefs := range prefsList {
		if err := ctx.Err(); err != nil {
			// Shutdown: the in-flight user finished; stop taking new ones.
			log.Info("delivery cycle interrupted", "processed", processed)
			return report, err
		}
		outcome, eligible := o.processUser(ctx, log, report.CycleID, prefs, candidates)
		processed++
		if eligible {
			report.Eligible++
		}
		switch outcome.Action {
		case "sent":
			report.Sent += outcome.JobsSent
		case "skipped":
			report.Skipped++
		case "error":
			report.Errors++
		}
		o.recordOutcome(log, outcome)
	}

	dispatched, err := o.reminders.RunCycle(ctx)
	if err != nil {
		log.Error("reminder pass failed", "error", err)
		report.Errors++
	}
	report.Reminders = dispatched

	o.maybeSweep(ctx, log)

	report.Duration = o.now().Sub(report.StartedAt)
	log.Info("delivery cycle finished",
		"eligible", report.Eligible, "sent", report.Sent,
		"reminders", report.Reminders, "skipped", report.Skipped,
		"errors", report.Errors, "duration", report.Duration)
	return report, nil
}

// processUser runs the per-user delivery decision and returns the outcome
// row to record, plus whether the user was eligible (live window; the
// confirmed-preferences half is the caller's listing). Quota and
// candidate skips still count as eligible. It never panics the cycle;
// every failure becomes an outcome with action "error".
func (o *Orchestrator) processUser(ctx context.Context, log *slog.Logger,
	cycleID string, prefs storage.UserPreferences, candidates []storage.JobPosting) (storage.DeliveryOutcome, bool) {

	eligible := false
	outcome := storage.DeliveryOutcome{
		ID:      uuid.New().String(),
		CycleID: cycleID,
		UserID:  prefs.UserID,
	}
	fail := func(reason string, err error) storage.DeliveryOutcome {
		outcome.Action = "error"
		outcome.Reason = reason
		log.Error("user delivery failed", "user_id", prefs.UserID,
			"reason", reason, "kind", Classify(err), "error", err)
		return outcome
	}
	skip := func(reason string) storage.DeliveryOutcome {
		outcome.Action = "skipped"
		outcome.Reason = reason
		return outcome
	}

	st, err := o.windows.GetStatus(ctx, prefs.UserID)
	if err != nil {
		// Unknown window state means do not send, not "no window".
		return fail("window_unknown", err), eligible
	}
	switch st.State {
	case window.StateNone:
		return skip("no_window"), eligible
	case window.StateExpired:
		return skip("window_expired"), eligible
	case window.StateActive:
		eligible = true
	default:
		return fail("window_unknown", errIntegrity{msg: fmt.Sprintf("window state %q for user %s", st.State, prefs.UserID)}), eligible
	}

	ok, remaining, err := o.ledger.ShouldSendMore(ctx, prefs.UserID, o.opts.MaxJobsPerDay)
	if err != nil {
		return fail("quota_check_failed", err), eligible
	}
	if !ok {
		return skip("daily_quota_reached"), eligible
	}

	ranked, err := o.matcher.RankJobs(ctx, prefs, candidates, o.opts.TopN)
	if err != nil {
		return fail("ranking_failed", err), eligible
	}
	if len(ranked) == 0 {
		return skip("no_candidates"), eligible
	}

	scores := make(map[string]matching.ScoredJob, len(ranked))
	jobs := make([]storage.JobPosting, 0, len(ranked))
	for _, s := range ranked {
		scores[s.Job.ID] = s
		jobs = append(jobs, s.Job)
	}
	unseen := o.ledger.FilterUnseen(ctx, prefs.UserID, jobs)
	if len(unseen) == 0 {
		return skip("no_unseen_jobs"), eligible
	}
	if len(unseen) > remaining {
		unseen = unseen[:remaining]
	}

	user, err := o.store.GetUser(prefs.UserID)
	if err != nil {
		return fail("user_lookup_failed", err), eligible
	}

	sent := 0
	for _, job := range unseen {
		scored := scores[job.ID]
		if err := o.deliver(ctx, user, job, scored.Score); err != nil {
			// Unsent jobs stay unrecorded and surface again next cycle.
			outcome.JobsSent = sent
			return fail("send_failed", err), eligible
		}
		sent++
	}

	outcome.Action = "sent"
	outcome.Reason = "delivered"
	outcome.JobsSent = sent
	return outcome, eligible
}

// deliver sends one job alert under the concurrency throttle and commits
// the ledger entry. The ledger write is fail-closed: if it cannot be
// recorded the error propagates and no further sends happen for the user.
func (o *Orchestrator) deliver(ctx context.Context, user storage.User, job storage.JobPosting, score float64) error {
	if err := o.sendSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring send slot: %w", err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, o.opts.SendTimeout)
	err := o.messenger.Send(sendCtx, user.Address, renderJobAlert(job))
	cancel()
	o.sendSem.Release(1)
	if err != nil {
		return fmt.Errorf("sending job %s to %s: %w", job.ID, user.ID, err)
	}

	if err := o.ledger.MarkShown(ctx, user.ID, job.ID, score, "initial_batch"); err != nil {
		return err
	}
	if err := o.windows.RecordOutbound(ctx, user.ID); err != nil {
		// Counter drift only; the ledger entry already guards repeats.
		o.logger.Warn("outbound counter update failed", "user_id", user.ID, "error", err)
	}
	return nil
}

func (o *Orchestrator) recordOutcome(log *slog.Logger, outcome storage.DeliveryOutcome) {
	if err := o.store.AppendOutcome(outcome); err != nil {
		log.Warn("recording cycle outcome failed", "user_id", outcome.UserID, "error", err)
	}
}

// maybeSweep runs the retention sweeps at most once per day.
func (o *Orchestrator) maybeSweep(ctx context.Context, log *slog.Logger) {
	o.mu.Lock()
	due := o.now().Sub(o.lastSweep) >= 24*time.Hour
	if due {
		o.lastSweep = o.now()
	}
	o.mu.Unlock()
	if !due {
		return
	}

	if n, err := o.windows.Cleanup(ctx, o.opts.WindowRetention); err != nil {
		log.Error("window retention sweep failed", "error", err)
	} else if n > 0 {
		log.Info("purged old windows", "count", n)
	}
	if n, err := o.ledger.Cleanup(ctx, o.opts.LedgerRetention); err != nil {
		log.Error("ledger retention sweep failed", "error", err)
	} else if n > 0 {
		log.Info("purged old delivery records", "count", n)
	}
	cutoff := o.now().AddDate(0, 0, -o.opts.OutcomeRetention)
	if n, err := o.store.PurgeOutcomes(cutoff); err != nil {
		log.Error("outcome retention sweep failed", "error", err)
	} else if n > 0 {
		log.Info("purged old outcomes", "count", n)
	}
}

// HandleInbound processes an inbound platform message: the user is
// upserted by address and their window clock resets. Every inbound
// message must pass through here or windows silently go stale.
func (o *Orchestrator) HandleInbound(ctx context.Context, address, displayName, text string) (window.Status, error) {
	user, err := o.store.UpsertUser(address, displayName, uuid.New().String())
	if err != nil {
		return window.Status{State: window.StateUnknown}, fmt.Errorf("upserting inbound user: %w", err)
	}

	w, err := o.windows.RecordActivity(ctx, user.ID)
	if err != nil {
		return window.Status{State: window.StateUnknown}, fmt.Errorf("recording activity for %s: %w", user.ID, err)
	}

	o.logger.Info("inbound message recorded",
		"user_id", user.ID, "window_id", w.ID,
		"messages_in_window", w.MessagesInWindow,
		"preview", preview(text))
	return window.Compute(w, o.now()), nil
}

// EngineStatus is a point-in-time operational snapshot.
type EngineStatus struct {
	EligibleUsers     int     `json:"eligible_users"`
	ActiveWindows     int     `json:"active_windows"`
	RemindersToday    int     `json:"reminders_today"`
	UserEmbeddingPct  float64 `json:"user_embedding_pct"`
	JobEmbeddingPct   float64 `json:"job_embedding_pct"`
	LastSweep         string  `json:"last_sweep,omitempty"`
	CycleInProgress   bool    `json:"cycle_in_progress"`
}

// Status reports eligibility and coverage counters for the operational
// surface. Eligibility is the conjunction checked by the cycle: confirmed
// preferences AND an active, unexpired window.
func (o *Orchestrator) Status(ctx context.Context) (EngineStatus, error) {
	var st EngineStatus

	o.mu.Lock()
	st.CycleInProgress = o.running
	if !o.lastSweep.IsZero() {
		st.LastSweep = o.lastSweep.Format(time.RFC3339)
	}
	o.mu.Unlock()

	active, err := o.windows.ListActive(ctx)
	if err != nil {
		return st, fmt.Errorf("listing active windows: %w", err)
	}
	now := o.now()
	live := make(map[string]bool, len(active))
	for _, w := range active {
		if !window.Compute(w, now).Expired {
			live[w.UserID] = true
		}
	}
	st.ActiveWindows = len(live)

	prefsList, err := o.store.ListConfirmedPreferences()
	if err != nil {
		return st, fmt.Errorf("listing confirmed preferences: %w", err)
	}
	for _, p := range prefsList {
		if live[p.UserID] {
			st.EligibleUsers++
		}
	}

	st.RemindersToday, err = o.reminders.SentToday(ctx)
	if err != nil {
		return st, fmt.Errorf("counting reminders: %w", err)
	}

	if embedded, total, err := o.store.CountPreferenceEmbeddings(); err == nil && total > 0 {
		st.UserEmbeddingPct = float64(embedded) / float64(total) * 100
	}
	if embedded, total, err := o.store.CountJobEmbeddings(); err == nil && total > 0 {
		st.JobEmbeddingPct = float64(embedded) / float64(total) * 100
	}
	return st, nil
}

// renderJobAlert formats a posting for the messaging channel. Enhanced
// fields win over raw ones when present.
func renderJobAlert(job storage.JobPosting) string {
	title := job.Title
	if job.EnhancedTitle != "" {
		title = job.EnhancedTitle
	}
	summary := job.Summary
	if job.EnhancedSummary != "" {
		summary = job.EnhancedSummary
	}

	var b strings.Builder
	b.WriteString(title)
	if job.Company != "" {
		b.WriteString(" at ")
		b.WriteString(job.Company)
	}
	if job.Location != "" {
		b.WriteString("\nLocation: ")
		b.WriteString(job.Location)
	}
	if job.SalaryMin > 0 {
		fmt.Fprintf(&b, "\nSalary: from %d %s", job.SalaryMin, job.SalaryCurrency)
		if job.SalaryMax > job.SalaryMin {
			fmt.Fprintf(&b, " up to %d %s", job.SalaryMax, job.SalaryCurrency)
		}
	}
	if summary != "" {
		b.WriteString("\n\n")
		b.WriteString(truncate(summary, 600))
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:runeBoundary(s, max)]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

func preview(text string) string {
	const max = 48
	text = strings.TrimSpace(text)
	if len(text) > max {
		text = text[:runeBoundary(text, max)]
	}
	return text
}

// runeBoundary backs a byte offset up to the nearest rune start so a cut
// never splits a multibyte character.
func runeBoundary(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
