package store

import (
	"iter"

	"github.com/kittclouds/flexstore/pkg/query"
)

// Results is a lazy, order-preserving enumeration over fetched rows. Rows
// are materialized into entities one at a time, filtered through any
// residual slow query, and cached; re-iterating a fully materialized result
// set never re-executes SQL or re-applies the slow predicate or sort.
// Results are not safe for concurrent use.
type Results struct {
	db   *Database
	kind *Kind

	rows []rawRow
	flex map[int64]map[string]string

	slowQuery query.Query
	slowSorts []query.Sort
	revision  int64

	cache  []*Entity
	next   int // index of the first unconsumed raw row
	sorted bool
}

// produce converts the next raw row. Rows rejected by the slow query are
// skipped without being cached.
func (r *Results) produce() bool {
	row := r.rows[r.next]
	r.next++
	e := entityFromRow(r.db, r.kind, row.cols, r.flex[row.id], r.revision)
	if r.slowQuery != nil && !r.slowQuery.Match(e) {
		return false
	}
	r.cache = append(r.cache, e)
	return true
}

func (r *Results) drained() bool { return r.next >= len(r.rows) }

// materialize consumes every remaining row and, once, applies the slow sort
// passes in their listed order on top of the SQL-produced ordering.
func (r *Results) materialize() {
	for !r.drained() {
		r.produce()
	}
	if len(r.slowSorts) > 0 && !r.sorted {
		recs := make([]query.Record, len(r.cache))
		for i, e := range r.cache {
			recs[i] = e
		}
		for _, s := range r.slowSorts {
			s.Sort(recs)
		}
		for i := range recs {
			r.cache[i] = recs[i].(*Entity)
		}
		r.sorted = true
	}
}

// Iter enumerates entities. With a slow sort pending the whole set is
// materialized first (unavoidably eager); otherwise cached entities are
// replayed and further rows converted on demand.
func (r *Results) Iter() iter.Seq[*Entity] {
	return func(yield func(*Entity) bool) {
		if len(r.slowSorts) > 0 {
			r.materialize()
		}
		for i := 0; ; {
			for i < len(r.cache) {
				if !yield(r.cache[i]) {
					return
				}
				i++
			}
			if r.drained() {
				return
			}
			r.produce()
		}
	}
}

// All materializes and returns every entity in order.
func (r *Results) All() []*Entity {
	r.materialize()
	return append([]*Entity(nil), r.cache...)
}

// Len counts results. Without a residual slow query the raw row count is
// authoritative and nothing is materialized; with one, counting requires a
// full iteration.
func (r *Results) Len() int {
	if r.drained() {
		return len(r.cache)
	}
	if r.slowQuery == nil {
		return len(r.rows)
	}
	r.materialize()
	return len(r.cache)
}

// At returns the i'th entity, replaying the iteration up to that position
// when not yet materialized. It returns nil when i is out of range.
func (r *Results) At(i int) *Entity {
	if i < 0 {
		return nil
	}
	if len(r.slowSorts) > 0 {
		r.materialize()
	}
	for i >= len(r.cache) && !r.drained() {
		r.produce()
	}
	if i >= len(r.cache) {
		return nil
	}
	return r.cache[i]
}

// First returns the first entity, or nil for an empty result set.
func (r *Results) First() *Entity {
	return r.At(0)
}
