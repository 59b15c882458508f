package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobpulse/jobpulse/internal/config"
	"github.com/jobpulse/jobpulse/internal/matching"
	"github.com/jobpulse/jobpulse/internal/provider"
	"github.com/jobpulse/jobpulse/internal/storage"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running jobpulse daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("could not load config: %v", err)
			return err
		}

		pid, err := readPIDFile(cfg.PIDFile())
		if err != nil {
			printError("jobpulse is not running (no PID file)")
			return fmt.Errorf("not running: %w", err)
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			printError("could not find process %d", pid)
			return err
		}

		if err := process.Signal(syscall.SIGTERM); err != nil {
			printError("could not stop jobpulse (PID %d): %v", pid, err)
			removePIDFile(cfg.PIDFile())
			return err
		}

		printSuccess("Sent stop signal to jobpulse (PID %d)", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show delivery engine status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(localURL(cfg.HTTPAddr) + "/health")
		if err != nil {
			printStatus("Server", "stopped")
			printStatus("Data dir", "%s", cfg.DataDir)
			return nil
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			return nil
		}
		printStatus("Server", "running on %s", cfg.HTTPAddr)

		apiC, err := newAPIClient()
		if err == nil {
			statusResp, err := apiC.get("/status")
			if err == nil {
				var st struct {
					EligibleUsers    int     `json:"eligible_users"`
					ActiveWindows    int     `json:"active_windows"`
					RemindersToday   int     `json:"reminders_today"`
					UserEmbeddingPct float64 `json:"user_embedding_pct"`
					JobEmbeddingPct  float64 `json:"job_embedding_pct"`
				}
				if decodeJSON(statusResp, &st) == nil {
					printStatus("Eligible users", "%d", st.EligibleUsers)
					printStatus("Active windows", "%d", st.ActiveWindows)
					printStatus("Reminders today", "%d", st.RemindersToday)
					printStatus("User embeddings", "%.0f%%", st.UserEmbeddingPct)
					printStatus("Job embeddings", "%.0f%%", st.JobEmbeddingPct)
				}
			}
		}

		printStatus("Cycle interval", "%s", cfg.CycleInterval)
		printStatus("Data dir", "%s", cfg.DataDir)
		return nil
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Trigger a delivery cycle immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Running delivery cycle...")
		resp, err := client.post("/cycle/run", nil)
		if err != nil {
			return err
		}

		var report struct {
			CycleID   string `json:"cycle_id"`
			Eligible  int    `json:"eligible"`
			Sent      int    `json:"sent"`
			Reminders int    `json:"reminders"`
			Skipped   int    `json:"skipped"`
			Errors    int    `json:"errors"`
			Duration  string `json:"duration"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printSuccess("Cycle %s finished in %s", report.CycleID, report.Duration)
		printStatus("Eligible", "%d", report.Eligible)
		printStatus("Jobs sent", "%d", report.Sent)
		printStatus("Reminders", "%d", report.Reminders)
		printStatus("Skipped", "%d", report.Skipped)
		if report.Errors > 0 {
			printWarning("%d users failed, see server logs", report.Errors)
		}
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Compute missing embeddings for users and jobs",
	Long: `Compute missing embeddings for users and jobs.

Opens the database directly; stop the daemon first or expect lock
contention. Safe to re-run: rows that already carry a current embedding
are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		refreshDays, _ := cmd.Flags().GetInt("refresh-days")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.EmbeddingAPIKey == "" {
			return fmt.Errorf("JOBPULSE_EMBEDDING_API_KEY is required for backfill")
		}

		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		embedder := provider.NewOpenAI(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
		matcher := matching.New(embedder, store, matching.Options{})
		ctx := context.Background()

		printStep("Backfilling user embeddings...")
		users, err := matcher.BackfillUserEmbeddings(ctx, batchSize)
		if err != nil {
			return err
		}
		printSuccess("Embedded %d user profiles", users)

		printStep("Backfilling job embeddings...")
		jobs, err := matcher.BackfillJobEmbeddings(ctx, batchSize)
		if err != nil {
			return err
		}
		printSuccess("Embedded %d job postings", jobs)

		if refreshDays > 0 {
			printStep("Refreshing embeddings older than %d days...", refreshDays)
			refreshed, err := matcher.RefreshStale(ctx, refreshDays, batchSize)
			if err != nil {
				return err
			}
			printSuccess("Refreshed %d stale embeddings", refreshed)
		}
		return nil
	},
}

func init() {
	backfillCmd.Flags().Int("batch-size", 100, "maximum rows to embed per pass")
	backfillCmd.Flags().Int("refresh-days", 0, "also refresh embeddings older than this many days (0 disables)")
}
