package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertUser inserts a user keyed by messaging address, or returns the
// existing row. Users are created on first inbound contact and never
// hard-deleted here.
func (s *Store) UpsertUser(address, displayName string, id string) (User, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO users (id, address, display_name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET display_name = CASE
			WHEN excluded.display_name != '' THEN excluded.display_name
			ELSE users.display_name END`,
		id, address, displayName, now.Format(time.RFC3339),
	)
	if err != nil {
		return User{}, fmt.Errorf("upserting user %s: %w", address, err)
	}
	return s.GetUserByAddress(address)
}

func (s *Store) GetUser(id string) (User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, address, display_name, created_at FROM users WHERE id = ?`, id))
}

func (s *Store) GetUserByAddress(address string) (User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, address, display_name, created_at FROM users WHERE address = ?`, address))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.Address, &u.DisplayName, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}

// SavePreferences replaces the user's active preference row. The embedding
// columns are always left untouched; staleness is detected by comparing
// embedding_text against the freshly built profile, and the matcher
// recomputes when they diverge.
func (s *Store) SavePreferences(p UserPreferences) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO user_preferences
			(user_id, roles, categories, interests, experience_years, skills, locations,
			 salary_floor, salary_currency, arrangements, industry, confirmed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			roles = excluded.roles,
			categories = excluded.categories,
			interests = excluded.interests,
			experience_years = excluded.experience_years,
			skills = excluded.skills,
			locations = excluded.locations,
			salary_floor = excluded.salary_floor,
			salary_currency = excluded.salary_currency,
			arrangements = excluded.arrangements,
			industry = excluded.industry,
			confirmed = excluded.confirmed,
			updated_at = excluded.updated_at`,
		p.UserID, p.Roles, p.Categories, p.Interests, p.ExperienceYears, p.Skills,
		p.Locations, p.SalaryFloor, p.SalaryCurrency, p.Arrangements, p.Industry,
		boolToInt(p.Confirmed), now,
	)
	if err != nil {
		return fmt.Errorf("saving preferences for %s: %w", p.UserID, err)
	}
	return nil
}

const preferencesColumns = `user_id, roles, categories, interests, experience_years,
	skills, locations, salary_floor, salary_currency, arrangements, industry,
	confirmed, embedding, embedding_text, embedded_at, updated_at`

func (s *Store) GetPreferences(userID string) (UserPreferences, error) {
	row := s.db.QueryRow(
		`SELECT `+preferencesColumns+` FROM user_preferences WHERE user_id = ?`, userID)
	return scanPreferences(row.Scan)
}

// ListConfirmedPreferences returns the preference rows gating delivery
// eligibility. Eligibility additionally requires a live window; that half
// is checked by the orchestrator.
func (s *Store) ListConfirmedPreferences() ([]UserPreferences, error) {
	rows, err := s.db.Query(
		`SELECT ` + preferencesColumns + ` FROM user_preferences WHERE confirmed = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("querying confirmed preferences: %w", err)
	}
	defer rows.Close()

	var result []UserPreferences
	for rows.Next() {
		p, err := scanPreferences(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// ListPreferencesMissingEmbedding returns confirmed preference rows whose
// embedding is absent or whose source text no longer matches embedding_text.
func (s *Store) ListPreferencesMissingEmbedding(limit int) ([]UserPreferences, error) {
	rows, err := s.db.Query(
		`SELECT `+preferencesColumns+` FROM user_preferences
		 WHERE confirmed = 1 AND embedding IS NULL
		 ORDER BY updated_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying preferences missing embedding: %w", err)
	}
	defer rows.Close()

	var result []UserPreferences
	for rows.Next() {
		p, err := scanPreferences(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// UpdatePreferencesEmbedding stores a freshly computed vector plus the exact
// text it was derived from.
func (s *Store) UpdatePreferencesEmbedding(userID string, embedding []byte, text string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE user_preferences SET embedding = ?, embedding_text = ?, embedded_at = ?
		WHERE user_id = ?`,
		embedding, text, now, userID)
	if err != nil {
		return fmt.Errorf("updating preferences embedding for %s: %w", userID, err)
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

// CountPreferenceEmbeddings returns (with embedding, total) over confirmed rows.
func (s *Store) CountPreferenceEmbeddings() (embedded, total int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(CASE WHEN embedding IS NOT NULL THEN 1 END), COUNT(*)
		FROM user_preferences WHERE confirmed = 1`).Scan(&embedded, &total)
	return embedded, total, err
}

func scanPreferences(scan func(dest ...any) error) (UserPreferences, error) {
	var p UserPreferences
	var confirmed int
	var embedding []byte
	var embeddedAt sql.NullString
	var updatedAt string
	err := scan(&p.UserID, &p.Roles, &p.Categories, &p.Interests, &p.ExperienceYears,
		&p.Skills, &p.Locations, &p.SalaryFloor, &p.SalaryCurrency, &p.Arrangements,
		&p.Industry, &confirmed, &embedding, &p.EmbeddingText, &embeddedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return UserPreferences{}, ErrNotFound
	}
	if err != nil {
		return UserPreferences{}, err
	}
	p.Confirmed = confirmed != 0
	p.Embedding = embedding
	if embeddedAt.Valid && embeddedAt.String != "" {
		t, err := time.Parse(time.RFC3339, embeddedAt.String)
		if err != nil {
			return UserPreferences{}, fmt.Errorf("parsing embedded_at: %w", err)
		}
		p.EmbeddedAt = t
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return UserPreferences{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	p.UpdatedAt = t
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
