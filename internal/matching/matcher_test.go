package matching

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jobpulse/jobpulse/internal/storage"
)

type mockProvider struct {
	calls   atomic.Int64
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	return m.embedFn(ctx, text)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPrefs(t *testing.T, s *storage.Store, userID string) storage.UserPreferences {
	t.Helper()
	if _, err := s.UpsertUser("addr-"+userID, "Test", userID); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	p := storage.UserPreferences{
		UserID:      userID,
		Roles:       `["backend engineer"]`,
		Skills:      `["Go","SQL"]`,
		Locations:   `["Berlin"]`,
		SalaryFloor: 50000,
		Confirmed:   true,
	}
	if err := s.SavePreferences(p); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}
	got, err := s.GetPreferences(userID)
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	return got
}

func testJobs(t *testing.T, s *storage.Store, ids ...string) []storage.JobPosting {
	t.Helper()
	jobs := make([]storage.JobPosting, 0, len(ids))
	for _, id := range ids {
		j := storage.JobPosting{
			ID:       id,
			Title:    "Backend Engineer",
			Company:  "Acme",
			Location: "Berlin",
			Skills:   `["Go"]`,
			Summary:  "Build services in Go.",
			PostedAt: time.Now().UTC(),
		}
		if err := s.SaveJob(j); err != nil {
			t.Fatalf("SaveJob %s: %v", id, err)
		}
		jobs = append(jobs, j)
	}
	return jobs
}

func TestRankJobs_EmptyCandidates(t *testing.T) {
	store := openTestStore(t)
	prefs := testPrefs(t, store, "u-1")
	m := New(&mockProvider{embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	}}, store, Options{})

	ranked, err := m.RankJobs(context.Background(), prefs, nil, 5)
	if err != nil {
		t.Fatalf("RankJobs: %v", err)
	}
	if len(ranked) != 0 {
		t.Fatalf("ranked = %d, want 0", len(ranked))
	}
}

func TestRankJobs_EmbeddingPathOrdersBySimilarity(t *testing.T) {
	store := openTestStore(t)
	prefs := testPrefs(t, store, "u-1")
	jobs := testJobs(t, store, "j-close", "j-far")
	jobs[1].Title = "Sous Chef"
	jobs[1].Skills = `["cooking"]`
	if err := store.SaveJob(jobs[1]); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	provider := &mockProvider{embedFn: func(_ context.Context, text string) ([]float32, error) {
		// The user's vector and the matching job's vector align; the
		// unrelated job's vector is orthogonal.
		if text == BuildJobProfile(jobs[1]) {
			return []float32{0, 1}, nil
		}
		return []float32{1, 0}, nil
	}}
	m := New(provider, store, Options{})

	ranked, err := m.RankJobs(context.Background(), prefs, []storage.JobPosting{jobs[1], jobs[0]}, 0)
	if err != nil {
		t.Fatalf("RankJobs: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2", len(ranked))
	}
	if ranked[0].Job.ID != "j-close" {
		t.Errorf("top job = %s, want j-close", ranked[0].Job.ID)
	}
	if ranked[0].Method != MethodEmbedding {
		t.Errorf("method = %s, want %s", ranked[0].Method, MethodEmbedding)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Errorf("scores not descending: %v then %v", ranked[0].Score, ranked[1].Score)
	}
}

func TestRankJobs_FallsBackToKeywordOnProviderFailure(t *testing.T) {
	store := openTestStore(t)
	prefs := testPrefs(t, store, "u-1")
	jobs := testJobs(t, store, "j-1")

	m := New(&mockProvider{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("provider down")
	}}, store, Options{})

	ranked, err := m.RankJobs(context.Background(), prefs, jobs, 0)
	if err != nil {
		t.Fatalf("RankJobs: %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("ranked = %d, want 1", len(ranked))
	}
	if ranked[0].Method != MethodKeyword {
		t.Errorf("method = %s, want %s", ranked[0].Method, MethodKeyword)
	}
	if ranked[0].Score <= 0 {
		t.Errorf("keyword score = %v for a strong structured match", ranked[0].Score)
	}
}

func TestRankJobs_NilProviderUsesKeyword(t *testing.T) {
	store := openTestStore(t)
	prefs := testPrefs(t, store, "u-1")
	jobs := testJobs(t, store, "j-1")

	m := New(nil, store, Options{})
	ranked, err := m.RankJobs(context.Background(), prefs, jobs, 0)
	if err != nil {
		t.Fatalf("RankJobs: %v", err)
	}
	if ranked[0].Method != MethodKeyword {
		t.Errorf("method = %s, want %s", ranked[0].Method, MethodKeyword)
	}
}

func TestRankJobs_CancelledContext(t *testing.T) {
	store := openTestStore(t)
	prefs := testPrefs(t, store, "u-1")
	jobs := testJobs(t, store, "j-1")

	m := New(&mockProvider{embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{1}, nil
	}}, store, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.RankJobs(ctx, prefs, jobs, 0); err == nil {
		t.Fatal("RankJobs with cancelled context returned nil error")
	}
}

func TestEmbed_CacheDeduplicatesProviderCalls(t *testing.T) {
	store := openTestStore(t)
	prefs := testPrefs(t, store, "u-1")
	jobs := testJobs(t, store, "j-1")

	provider := &mockProvider{embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	}}
	m := New(provider, store, Options{})

	for i := 0; i < 3; i++ {
		if _, err := m.RankJobs(context.Background(), prefs, jobs, 0); err != nil {
			t.Fatalf("RankJobs %d: %v", i, err)
		}
	}
	// First pass embeds the user and the job; later passes read the
	// durable columns written back on the first pass.
	if calls := provider.calls.Load(); calls != 2 {
		t.Errorf("provider calls = %d, want 2", calls)
	}
}

func TestUserVector_PersistsDurably(t *testing.T) {
	store := openTestStore(t)
	prefs := testPrefs(t, store, "u-1")
	jobs := testJobs(t, store, "j-1")

	m := New(&mockProvider{embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{0.5, 0.5}, nil
	}}, store, Options{})
	if _, err := m.RankJobs(context.Background(), prefs, jobs, 0); err != nil {
		t.Fatalf("RankJobs: %v", err)
	}

	stored, err := store.GetPreferences("u-1")
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if stored.Embedding == nil {
		t.Fatal("user embedding not persisted")
	}
	if stored.EmbeddingText != BuildUserProfile(stored) {
		t.Error("embedding_text does not match the current profile text")
	}
	vec, err := DecodeVector(stored.Embedding)
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("decoded vector = %v", vec)
	}
}
