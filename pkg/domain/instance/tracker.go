// In-memory table of in-flight and recently finished launches.
package instance

import (
	"fmt"
	"sync"
	"time"

	"github.com/sievelab/podgen/pkg/domain"
	kerr "github.com/sievelab/podgen/pkg/domain/errors"
)

// Tracker owns the Instance records.
//
// Everyone outside gets value snapshots; the records themselves are
// mutated only through Register / Transition / Purge under the table
// lock. By convention only the supervising task of an instance calls
// Transition for it, so per-instance updates are single-writer.
type Tracker struct {
	mu    sync.Mutex
	table map[string]*domain.Instance

	now func() time.Time
}

type Option func(*Tracker)

// WithClock replaces the transition-timestamp clock. For tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		table: map[string]*domain.Instance{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func snapshot(i *domain.Instance) domain.Instance {
	s := *i
	if i.Exit != nil {
		e := *i.Exit
		s.Exit = &e
	}
	if i.Result != nil {
		s.Result = append([]byte{}, i.Result...)
	}
	return s
}

// Register adds a new Pending record.
//
// CreatedAt/UpdatedAt and the initial status are set here; whatever the
// caller put in those fields is overwritten.
func (t *Tracker) Register(i domain.Instance) (domain.Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.table[i.Id]; ok {
		return domain.Instance{}, fmt.Errorf("instance id is already tracked: %s", i.Id)
	}

	now := t.now()
	i.Status = domain.Pending
	i.CreatedAt = now
	i.UpdatedAt = now
	i.Exit = nil
	i.Result = nil

	t.table[i.Id] = &i
	return snapshot(&i), nil
}

// Get returns a snapshot of an instance.
//
// Fails with kerr.ErrMissing for unknown or purged ids.
func (t *Tracker) Get(id string) (domain.Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.table[id]
	if !ok {
		return domain.Instance{}, fmt.Errorf("%w: %s", kerr.ErrMissing, id)
	}
	return snapshot(i), nil
}

// Transition advances an instance to `next`, applying mutations
// (result payload, exit detail, pod name) under the same lock.
//
// Illegal transitions fail with kerr.ErrInvalidStateChange and leave
// the record untouched: a stale observation can never be applied after
// a newer one.
func (t *Tracker) Transition(
	id string, next domain.Status, mutate ...func(*domain.Instance),
) (domain.Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.table[id]
	if !ok {
		return domain.Instance{}, fmt.Errorf("%w: %s", kerr.ErrMissing, id)
	}

	if !i.Status.CanAdvanceTo(next) {
		return snapshot(i), fmt.Errorf(
			"%w: %s: %s -> %s", kerr.ErrInvalidStateChange, id, i.Status, next,
		)
	}

	i.Status = next
	i.UpdatedAt = t.now()
	for _, m := range mutate {
		m(i)
	}
	return snapshot(i), nil
}

// NonTerminal counts instances which have not reached a terminal state.
func (t *Tracker) NonTerminal() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, i := range t.table {
		if !i.Status.Terminal() {
			n += 1
		}
	}
	return n
}

// Find returns snapshots of all tracked instances.
func (t *Tracker) Find() []domain.Instance {
	t.mu.Lock()
	defer t.mu.Unlock()

	found := make([]domain.Instance, 0, len(t.table))
	for _, i := range t.table {
		found = append(found, snapshot(i))
	}
	return found
}

// Purge drops Reclaimed records whose last transition is older than
// `olderThan`, and reports how many were dropped.
func (t *Tracker) Purge(olderThan time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, i := range t.table {
		if i.Status == domain.Reclaimed && i.UpdatedAt.Before(olderThan) {
			delete(t.table, id)
			n += 1
		}
	}
	return n
}
