package storage

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// IsUniqueViolation reports whether err is a SQLite uniqueness-constraint
// failure. Callers treat such inserts as already applied, never as errors
// to propagate.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type User struct {
	ID          string
	Address     string
	DisplayName string
	CreatedAt   time.Time
}

type UserPreferences struct {
	UserID          string
	Roles           string // JSON array stored as text
	Categories      string // JSON array stored as text
	Interests       string
	ExperienceYears int
	Skills          string // JSON array stored as text
	Locations       string // JSON array stored as text
	SalaryFloor     int
	SalaryCurrency  string
	Arrangements    string // JSON array stored as text
	Industry        string
	Confirmed       bool
	Embedding       []byte // little-endian float32 blob; nil if not computed
	EmbeddingText   string
	EmbeddedAt      time.Time // zero if not computed
	UpdatedAt       time.Time
}

type JobPosting struct {
	ID              string
	Title           string
	Company         string
	Location        string
	SalaryMin       int
	SalaryMax       int
	SalaryCurrency  string
	Arrangement     string
	Skills          string // JSON array stored as text
	Summary         string
	EnhancedTitle   string // AI-enhanced; preferred over Title when non-empty
	EnhancedSummary string
	PostedAt        time.Time
	Embedding       []byte
	EmbeddingText   string
	EmbeddedAt      time.Time
}

type ConversationWindow struct {
	ID                   string
	UserID               string
	WindowStart          time.Time
	LastActivity         time.Time
	Status               string // "active" or "expired"
	FourHourReminderSent bool
	BatteryWarningSent   bool
	MessagesInWindow     int
}

type DeliveryRecord struct {
	ID      string
	UserID  string
	JobID   string
	ShownAt time.Time
	Score   float64
	Channel string // "initial_batch" or "reminder_batch"
}

type ReminderLogEntry struct {
	ID     string
	UserID string
	Slot   string
	Day    string // "2006-01-02"
	SentAt time.Time
}

// DeliveryOutcome records what happened to one user during one cycle.
type DeliveryOutcome struct {
	ID        string
	CycleID   string
	UserID    string
	Action    string // "sent", "reminder", "skipped", "error"
	Reason    string
	JobsSent  int
	CreatedAt time.Time
}
