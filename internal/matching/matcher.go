package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jobpulse/jobpulse/internal/storage"
)

// Provider computes embedding vectors for text via an external service.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ScoredJob is a candidate posting with its relevance score and the
// strategy that produced it.
type ScoredJob struct {
	Job    storage.JobPosting
	Score  float64
	Method string // "embedding" or "keyword"
}

const (
	MethodEmbedding = "embedding"
	MethodKeyword   = "keyword"
)

// Options tunes the matcher. Zero values pick the defaults below.
type Options struct {
	StaleAfter   time.Duration // durable embedding age before recompute (default 30 days)
	EmbedTimeout time.Duration // per-call provider budget (default 10s)
	CacheSize    int           // in-process vector cache capacity (default 1024)
}

// Matcher ranks candidate jobs for a user by semantic similarity between
// the synthesized profile texts, with the structured keyword scorer as a
// fallback whenever the embedding path fails on either side. Embedding is
// an accuracy enhancement, not a hard dependency.
type Matcher struct {
	provider   Provider
	store      *storage.Store
	cache      *VectorCache
	staleAfter time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Matcher over the given provider and store.
func New(provider Provider, store *storage.Store, opts Options) *Matcher {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * 24 * time.Hour
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 10 * time.Second
	}
	return &Matcher{
		provider:   provider,
		store:      store,
		cache:      NewVectorCache(opts.CacheSize, opts.StaleAfter),
		staleAfter: opts.StaleAfter,
		timeout:    opts.EmbedTimeout,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RankJobs scores the candidates for the user and returns them ordered by
// descending relevance, truncated to topN (topN <= 0 means all). An empty
// candidate list returns an empty list without error. Only context
// cancellation is an error; provider failures degrade to keyword scoring.
func (m *Matcher) RankJobs(ctx context.Context, prefs storage.UserPreferences, candidates []storage.JobPosting, topN int) ([]ScoredJob, error) {
	if len(candidates) == 0 {
		return []ScoredJob{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	userVec, err := m.userVector(ctx, prefs)
	if err != nil {
		m.logger.Warn("user embedding unavailable, using keyword ranking",
			"user_id", prefs.UserID, "error", err)
		userVec = nil
	}

	scored := make([]ScoredJob, 0, len(candidates))
	for _, job := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := ScoredJob{Job: job, Method: MethodKeyword}
		if userVec != nil {
			jobVec, err := m.jobVector(ctx, job)
			if err != nil {
				m.logger.Debug("job embedding unavailable, scoring by keywords",
					"job_id", job.ID, "error", err)
			} else {
				s.Score = CosineSimilarity(userVec, jobVec)
				s.Method = MethodEmbedding
			}
		}
		if s.Method == MethodKeyword {
			s.Score = KeywordScore(prefs, job)
		}
		scored = append(scored, s)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if topN > 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	return scored, nil
}

// userVector resolves the preference vector: durable column if fresh and
// derived from the current text, then the content-addressed cache, then
// the provider.
func (m *Matcher) userVector(ctx context.Context, prefs storage.UserPreferences) ([]float32, error) {
	text := BuildUserProfile(prefs)
	if text == "" {
		return nil, fmt.Errorf("empty profile text for user %s", prefs.UserID)
	}

	if prefs.Embedding != nil && prefs.EmbeddingText == text && m.fresh(prefs.EmbeddedAt) {
		return DecodeVector(prefs.Embedding)
	}

	vec, err := m.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := m.store.UpdatePreferencesEmbedding(prefs.UserID, EncodeVector(vec), text); err != nil {
		// Cache still holds the vector; persistence catches up next time.
		m.logger.Warn("persisting user embedding failed", "user_id", prefs.UserID, "error", err)
	}
	return vec, nil
}

func (m *Matcher) jobVector(ctx context.Context, job storage.JobPosting) ([]float32, error) {
	text := BuildJobProfile(job)
	if text == "" {
		return nil, fmt.Errorf("empty profile text for job %s", job.ID)
	}

	if job.Embedding != nil && job.EmbeddingText == text && m.fresh(job.EmbeddedAt) {
		return DecodeVector(job.Embedding)
	}

	vec, err := m.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := m.store.UpdateJobEmbedding(job.ID, EncodeVector(vec), text); err != nil {
		m.logger.Warn("persisting job embedding failed", "job_id", job.ID, "error", err)
	}
	return vec, nil
}

// embed resolves a vector for text through the cache or the provider,
// bounded by the per-call timeout.
func (m *Matcher) embed(ctx context.Context, text string) ([]float32, error) {
	if m.provider == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	key := HashText(text)
	if vec, ok := m.cache.Get(key); ok {
		return vec, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	vec, err := m.provider.Embed(embedCtx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	m.cache.Put(key, vec)
	return vec, nil
}

func (m *Matcher) fresh(embeddedAt time.Time) bool {
	return !embeddedAt.IsZero() && m.now().Sub(embeddedAt) < m.staleAfter
}
