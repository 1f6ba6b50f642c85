package policy

import (
	"sync"
	"sync/atomic"
	"time"
)

// Store publishes policy snapshots. Reads are lock-free; writes are serialized
// and copy-on-write, so a reader holding an older snapshot keeps a consistent view.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// NewStore creates a store whose first snapshot (generation 1) has every switch
// off and rootAdmin on the allow list.
func NewStore(rootAdmin string) *Store {
	s := &Store{now: time.Now}
	s.current.Store(&Snapshot{
		id:        1,
		updatedAt: s.now().UTC(),
		rootAdmin: rootAdmin,
		allow:     map[string]struct{}{rootAdmin: {}},
		deny:      map[string]struct{}{},
	})
	return s
}

// Current returns the latest published snapshot without blocking.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Apply runs mutations against a copy of the current snapshot and publishes the
// result atomically. Either every mutation applies or none does. When the
// mutations change nothing, the current snapshot is returned as is.
func (s *Store) Apply(mutations ...Mutation) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	d := &Draft{next: cur.clone()}
	for _, m := range mutations {
		if err := m(d); err != nil {
			return cur, err
		}
	}
	if !d.changed {
		return cur, nil
	}

	d.next.id = cur.id + 1
	d.next.updatedAt = s.now().UTC()
	s.current.Store(d.next)
	return d.next, nil
}
