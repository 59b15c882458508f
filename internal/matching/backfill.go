package matching

import (
	"context"
	"time"
)

// backfillDelay spaces provider calls during maintenance so bulk jobs stay
// inside the external provider's rate limits.
const backfillDelay = 250 * time.Millisecond

// BackfillUserEmbeddings computes vectors for up to batchSize confirmed
// preference rows that have none. Idempotent: rows whose stored text
// already matches the current profile text are skipped. Per-row failures
// are logged and skipped; only the listing query fails the batch. Returns
// the number of rows embedded.
func (m *Matcher) BackfillUserEmbeddings(ctx context.Context, batchSize int) (int, error) {
	rows, err := m.store.ListPreferencesMissingEmbedding(batchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, prefs := range rows {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		text := BuildUserProfile(prefs)
		if text == "" || (prefs.Embedding != nil && prefs.EmbeddingText == text) {
			continue
		}
		vec, err := m.embed(ctx, text)
		if err != nil {
			m.logger.Warn("user embedding backfill failed", "user_id", prefs.UserID, "error", err)
			continue
		}
		if err := m.store.UpdatePreferencesEmbedding(prefs.UserID, EncodeVector(vec), text); err != nil {
			m.logger.Warn("persisting backfilled user embedding failed", "user_id", prefs.UserID, "error", err)
			continue
		}
		done++
		m.pause(ctx)
	}
	return done, nil
}

// BackfillJobEmbeddings computes vectors for up to batchSize postings that
// have none. Same idempotency and failure isolation as the user variant.
func (m *Matcher) BackfillJobEmbeddings(ctx context.Context, batchSize int) (int, error) {
	jobs, err := m.store.ListJobsMissingEmbedding(batchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		text := BuildJobProfile(job)
		if text == "" || (job.Embedding != nil && job.EmbeddingText == text) {
			continue
		}
		vec, err := m.embed(ctx, text)
		if err != nil {
			m.logger.Warn("job embedding backfill failed", "job_id", job.ID, "error", err)
			continue
		}
		if err := m.store.UpdateJobEmbedding(job.ID, EncodeVector(vec), text); err != nil {
			m.logger.Warn("persisting backfilled job embedding failed", "job_id", job.ID, "error", err)
			continue
		}
		done++
		m.pause(ctx)
	}
	return done, nil
}

// RefreshStale recomputes posting vectors older than olderThanDays, up to
// batchSize. Embeddings also refresh lazily on the live path when the
// source text changes; this sweep catches drift in long-lived rows.
func (m *Matcher) RefreshStale(ctx context.Context, olderThanDays, batchSize int) (int, error) {
	cutoff := m.now().AddDate(0, 0, -olderThanDays)
	jobs, err := m.store.ListJobsWithStaleEmbedding(cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		text := BuildJobProfile(job)
		if text == "" {
			continue
		}
		vec, err := m.embed(ctx, text)
		if err != nil {
			m.logger.Warn("stale embedding refresh failed", "job_id", job.ID, "error", err)
			continue
		}
		if err := m.store.UpdateJobEmbedding(job.ID, EncodeVector(vec), text); err != nil {
			m.logger.Warn("persisting refreshed embedding failed", "job_id", job.ID, "error", err)
			continue
		}
		done++
		m.pause(ctx)
	}
	return done, nil
}

func (m *Matcher) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(backfillDelay):
	}
}
