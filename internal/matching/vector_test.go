package matching

import (
	"math"
	"testing"
	"time"

	"github.com/jobpulse/jobpulse/internal/storage"
)

func TestEncodeDecodeVector(t *testing.T) {
	in := []float32{0.1, -2.5, 3.75, 0}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeVector_RejectsTruncatedBlob(t *testing.T) {
	blob := EncodeVector([]float32{1, 2})
	if _, err := DecodeVector(blob[:len(blob)-1]); err == nil {
		t.Fatal("truncated blob decoded without error")
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 2}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVectorCache_ContentAddressed(t *testing.T) {
	c := NewVectorCache(2, time.Hour)

	keyA := HashText("profile text A")
	if keyA != HashText("profile text A") {
		t.Fatal("identical text hashed to different keys")
	}

	c.Put(keyA, []float32{1})
	c.Put(HashText("profile text B"), []float32{2})
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	// Capacity eviction drops the oldest entry.
	c.Put(HashText("profile text C"), []float32{3})
	if c.Len() != 2 {
		t.Fatalf("Len after eviction = %d, want 2", c.Len())
	}

	if vec, ok := c.Get(HashText("profile text C")); !ok || vec[0] != 3 {
		t.Errorf("Get(C) = %v, %v", vec, ok)
	}
}

func TestBuildUserProfile_Deterministic(t *testing.T) {
	p := storage.UserPreferences{
		UserID:          "u-1",
		Roles:           `["data engineer","analyst"]`,
		Skills:          `["Python"]`,
		Locations:       `["Remote"]`,
		ExperienceYears: 4,
		SalaryFloor:     60000,
		SalaryCurrency:  "EUR",
	}
	first := BuildUserProfile(p)
	if first == "" {
		t.Fatal("profile text empty")
	}
	for i := 0; i < 5; i++ {
		if BuildUserProfile(p) != first {
			t.Fatal("profile text not deterministic")
		}
	}
	if BuildUserProfile(storage.UserPreferences{}) != "" {
		t.Error("empty preferences produced non-empty profile text")
	}
}

func TestKeywordScore_FullStructuredMatch(t *testing.T) {
	p := storage.UserPreferences{
		Roles:        `["backend engineer"]`,
		Skills:       `["Go","SQL"]`,
		Locations:    `["Berlin"]`,
		SalaryFloor:  50000,
		Arrangements: `["hybrid"]`,
	}
	j := storage.JobPosting{
		Title:       "Senior Backend Engineer",
		Location:    "Berlin, Germany",
		SalaryMin:   55000,
		SalaryMax:   70000,
		Arrangement: "hybrid",
		Skills:      `["Go","SQL","Docker"]`,
	}

	got := KeywordScore(p, j)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("KeywordScore = %v, want 1.0 for a full match", got)
	}

	// Dropping the salary floor below the posting range keeps the score;
	// raising it above loses exactly the salary weight.
	p.SalaryFloor = 90000
	got = KeywordScore(p, j)
	if math.Abs(got-0.9) > 1e-9 {
		t.Errorf("KeywordScore = %v, want 0.9 with salary floor unmet", got)
	}
}

func TestKeywordScore_RemoteSatisfiesLocation(t *testing.T) {
	p := storage.UserPreferences{Locations: `["Berlin"]`}
	j := storage.JobPosting{Title: "Engineer", Location: "Lisbon", Arrangement: "remote"}

	got := KeywordScore(p, j)
	// Location weight plus the unconstrained salary weight.
	if math.Abs(got-0.25) > 1e-9 {
		t.Errorf("KeywordScore = %v, want 0.25", got)
	}
}
