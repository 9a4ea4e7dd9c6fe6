package uow

import (
	"maps"

	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/hydrate"
	"github.com/syssam/persist/schema"
)

// Checkpoint is a saved state of a unit of work. The transaction engine
// takes one before each savepoint and restores it when the savepoint is
// rolled back.
type Checkpoint struct {
	entries []entry
	written map[IdentityKey]struct{}
}

type entry struct {
	t        *TrackedEntity
	state    State
	values   []dialect.Value
	snapshot []dialect.Value
	marked   map[string]struct{}
	links    map[string]map[string]dialect.Value
	key      IdentityKey
	hasKey   bool
}

// Checkpoint saves the tracked entities, their column values and their
// bookkeeping.
func (u *UnitOfWork) Checkpoint() (*Checkpoint, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, ErrClosed
	}
	cp := &Checkpoint{
		entries: make([]entry, 0, len(u.order)),
		written: maps.Clone(u.written),
	}
	for _, t := range u.order {
		vals, err := hydrate.Dehydrate(t.Desc, t.Entity)
		if err != nil {
			return nil, err
		}
		e := entry{
			t:        t,
			state:    t.State,
			values:   vals,
			snapshot: t.Snapshot,
			marked:   maps.Clone(t.marked),
			key:      t.key,
			hasKey:   t.hasKey,
		}
		if t.links != nil {
			e.links = make(map[string]map[string]dialect.Value, len(t.links))
			for k, v := range t.links {
				e.links[k] = maps.Clone(v)
			}
		}
		cp.entries = append(cp.entries, e)
	}
	return cp, nil
}

// Restore returns the unit of work to cp. Entity column values are written
// back; entities tracked after cp are detached. Relation fields are left
// as they are.
func (u *UnitOfWork) Restore(cp *Checkpoint) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	kept := make(map[*TrackedEntity]bool, len(cp.entries))
	for _, e := range cp.entries {
		kept[e.t] = true
	}
	for _, t := range u.order {
		if !kept[t] {
			t.State = Detached
		}
	}
	u.order = u.order[:0]
	u.byPtr = make(map[any]*TrackedEntity, len(cp.entries))
	u.byKey = make(map[schema.TypeTag]map[string]*TrackedEntity)
	for _, e := range cp.entries {
		t := e.t
		if err := hydrate.Restore(t.Desc, t.Entity, e.values); err != nil {
			return err
		}
		t.State, t.Snapshot, t.marked, t.links = e.state, e.snapshot, e.marked, e.links
		t.key, t.hasKey = e.key, e.hasKey
		u.track(t)
	}
	u.written = maps.Clone(cp.written)
	return nil
}
