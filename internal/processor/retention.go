package processor

import (
	"time"

	"github.com/arkilian/colflat/internal/document"
)

// DefaultRetentionDays is used when neither an override nor the event sets
// a retention window.
const DefaultRetentionDays = 90

// RetentionPolicy computes the retention window of an event. It returns
// ErrEventTooOld when the event should not be stored at all.
type RetentionPolicy interface {
	RetentionDays(event *InsertEvent, timestamp time.Time) (int, error)
}

// Retention is the configured retention policy: per project overrides win
// over the event's own value, which wins over Default. Events older than
// their window are discarded unless KeepOldEvents is set.
type Retention struct {
	Default       int
	Overrides     map[uint64]int
	KeepOldEvents bool

	// Now is replaced in tests.
	Now func() time.Time
}

// RetentionDays implements RetentionPolicy.
func (r *Retention) RetentionDays(event *InsertEvent, timestamp time.Time) (int, error) {
	days, ok := r.Overrides[event.ProjectID]
	if !ok {
		days = event.RetentionDays
		if days == 0 {
			days = r.Default
		}
		if days == 0 {
			days = DefaultRetentionDays
		}
	}

	now := r.now()
	ts, ok := document.EnsureValidDate(timestamp)
	if !ok {
		ts = now
	}
	if !r.KeepOldEvents && ts.Before(now.AddDate(0, 0, -days)) {
		return 0, ErrEventTooOld
	}
	return days, nil
}

func (r *Retention) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// StacktraceDenylist reports projects whose stack traces are not stored.
type StacktraceDenylist interface {
	Contains(projectID uint64) bool
}

// ProjectSet is a StacktraceDenylist backed by a set of project ids.
type ProjectSet map[uint64]struct{}

// NewProjectSet builds a ProjectSet from a list of project ids.
func NewProjectSet(ids ...uint64) ProjectSet {
	s := make(ProjectSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains implements StacktraceDenylist.
func (s ProjectSet) Contains(projectID uint64) bool {
	_, ok := s[projectID]
	return ok
}
