package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const jobColumns = `id, title, company, location, salary_min, salary_max,
	salary_currency, arrangement, skills, summary, enhanced_title,
	enhanced_summary, posted_at, embedding, embedding_text, embedded_at`

// SaveJob inserts or replaces a job posting. Ingestion is external; this
// exists for imports and tests. Embedding columns are preserved on conflict
// so re-imports don't wipe computed vectors.
func (s *Store) SaveJob(j JobPosting) error {
	postedAt := j.PostedAt
	if postedAt.IsZero() {
		postedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO job_postings
			(id, title, company, location, salary_min, salary_max, salary_currency,
			 arrangement, skills, summary, enhanced_title, enhanced_summary, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			company = excluded.company,
			location = excluded.location,
			salary_min = excluded.salary_min,
			salary_max = excluded.salary_max,
			salary_currency = excluded.salary_currency,
			arrangement = excluded.arrangement,
			skills = excluded.skills,
			summary = excluded.summary,
			enhanced_title = excluded.enhanced_title,
			enhanced_summary = excluded.enhanced_summary,
			posted_at = excluded.posted_at`,
		j.ID, j.Title, j.Company, j.Location, j.SalaryMin, j.SalaryMax,
		j.SalaryCurrency, j.Arrangement, j.Skills, j.Summary, j.EnhancedTitle,
		j.EnhancedSummary, postedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", j.ID, err)
	}
	return nil
}

func (s *Store) GetJob(id string) (JobPosting, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM job_postings WHERE id = ?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return JobPosting{}, ErrNotFound
	}
	return j, err
}

// ListRecentJobs returns the newest postings, the candidate pool handed to
// the matcher each cycle.
func (s *Store) ListRecentJobs(limit int) ([]JobPosting, error) {
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM job_postings ORDER BY posted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListJobsMissingEmbedding returns postings without a cached vector,
// oldest first so backfill progresses deterministically.
func (s *Store) ListJobsMissingEmbedding(limit int) ([]JobPosting, error) {
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM job_postings
		 WHERE embedding IS NULL ORDER BY posted_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying jobs missing embedding: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListJobsWithStaleEmbedding returns postings whose vector predates the horizon.
func (s *Store) ListJobsWithStaleEmbedding(olderThan time.Time, limit int) ([]JobPosting, error) {
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM job_postings
		 WHERE embedding IS NOT NULL AND embedded_at < ?
		 ORDER BY embedded_at ASC LIMIT ?`,
		olderThan.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("querying jobs with stale embedding: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) UpdateJobEmbedding(id string, embedding []byte, text string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE job_postings SET embedding = ?, embedding_text = ?, embedded_at = ?
		WHERE id = ?`,
		embedding, text, now, id)
	if err != nil {
		return fmt.Errorf("updating job embedding for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountJobEmbeddings returns (with embedding, total) over all postings.
func (s *Store) CountJobEmbeddings() (embedded, total int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(CASE WHEN embedding IS NOT NULL THEN 1 END), COUNT(*)
		FROM job_postings`).Scan(&embedded, &total)
	return embedded, total, err
}

func collectJobs(rows *sql.Rows) ([]JobPosting, error) {
	var jobs []JobPosting
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(scan func(dest ...any) error) (JobPosting, error) {
	var j JobPosting
	var postedAt string
	var embedding []byte
	var embeddedAt sql.NullString
	err := scan(&j.ID, &j.Title, &j.Company, &j.Location, &j.SalaryMin, &j.SalaryMax,
		&j.SalaryCurrency, &j.Arrangement, &j.Skills, &j.Summary, &j.EnhancedTitle,
		&j.EnhancedSummary, &postedAt, &embedding, &j.EmbeddingText, &embeddedAt)
	if err != nil {
		return JobPosting{}, err
	}
	j.Embedding = embedding
	t, err := time.Parse(time.RFC3339, postedAt)
	if err != nil {
		return JobPosting{}, fmt.Errorf("parsing posted_at: %w", err)
	}
	j.PostedAt = t
	if embeddedAt.Valid && embeddedAt.String != "" {
		t, err := time.Parse(time.RFC3339, embeddedAt.String)
		if err != nil {
			return JobPosting{}, fmt.Errorf("parsing embedded_at: %w", err)
		}
		j.EmbeddedAt = t
	}
	return j, nil
}
