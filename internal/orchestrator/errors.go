package orchestrator

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jobpulse/jobpulse/internal/storage"
)

// Kind buckets a per-user failure for outcome records and retry policy.
type Kind string

const (
	// KindTransientStore covers connection and timeout failures against
	// the store: retry the user next cycle, do not abort the cycle.
	KindTransientStore Kind = "transient_store"
	// KindConstraint marks a uniqueness conflict: the operation was
	// already applied, not an error to propagate.
	KindConstraint Kind = "constraint_violation"
	// KindProvider covers embedding or message-send failures: fall back
	// or retry next cycle, never silently drop.
	KindProvider Kind = "external_provider"
	// KindIntegrity marks inconsistent stored state (e.g. a reminder flag
	// with no active window): log loudly, skip the user, never crash.
	KindIntegrity Kind = "data_integrity"
	KindUnknown   Kind = "unknown"
)

// ErrCycleRunning is returned when a cycle start overlaps an in-flight one.
var ErrCycleRunning = errors.New("delivery cycle already running")

// errIntegrity wraps stored-state inconsistencies so Classify can bucket them.
type errIntegrity struct{ msg string }

func (e errIntegrity) Error() string { return e.msg }

// Classify buckets an error into the taxonomy. Heuristic by necessity: the
// SQLite driver exposes constraint failures only through error text.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if storage.IsUniqueViolation(err) {
		return KindConstraint
	}
	var ie errIntegrity
	if errors.As(err, &ie) {
		return KindIntegrity
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindProvider
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientStore
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "connection") {
		return KindTransientStore
	}
	return KindUnknown
}
