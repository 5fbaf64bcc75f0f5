package realtime

import (
	"encoding/json"
	"fmt"
)

// Record is anything the feed can carry: it has a server-assigned id.
type Record interface {
	RecordID() int64
}

// Change is an event with its record decoded. Seq is the feed sequence, or
// zero for changes that did not come from the feed.
type Change[T Record] struct {
	Type   ChangeType
	ID     int64
	Seq    uint64
	Record T
}

// Decode turns a wire event into a typed change.
func Decode[T Record](ev Event) (Change[T], error) {
	c := Change[T]{Type: ev.Type, ID: ev.ID, Seq: ev.Seq}
	if len(ev.Record) > 0 {
		if err := json.Unmarshal(ev.Record, &c.Record); err != nil {
			return Change[T]{}, fmt.Errorf("decode %s record %d: %w", ev.Entity, ev.ID, err)
		}
	}
	return c, nil
}

// Apply folds one change into items and returns the resulting list. items is
// never modified. Applying the same change twice gives the same result as
// applying it once: inserts of a known id are ignored, updates replace in
// place, and deletes of an unknown id do nothing.
func Apply[T Record](items []T, c Change[T]) []T {
	idx := -1
	for i, item := range items {
		if item.RecordID() == c.ID {
			idx = i
			break
		}
	}

	switch c.Type {
	case Inserted:
		if idx >= 0 {
			return items
		}
		out := make([]T, 0, len(items)+1)
		out = append(out, c.Record)
		return append(out, items...)
	case Updated:
		if idx < 0 {
			return items
		}
		out := make([]T, len(items))
		copy(out, items)
		out[idx] = c.Record
		return out
	case Deleted:
		if idx < 0 {
			return items
		}
		out := make([]T, 0, len(items)-1)
		out = append(out, items[:idx]...)
		return append(out, items[idx+1:]...)
	}
	return items
}

// Versions remembers the newest feed sequence applied per record id,
// including ids that have since been deleted. Filtering changes through
// Admit before Apply keeps a late duplicate from rolling a record back or
// bringing a deleted one back.
type Versions map[int64]uint64

// Admit reports whether a change to id at seq should be applied and records
// seq. A change without a sequence is admitted only for ids the feed has
// not touched yet.
func (v Versions) Admit(id int64, seq uint64) bool {
	last, seen := v[id]
	if seq == 0 {
		return !seen
	}
	if seen && seq <= last {
		return false
	}
	v[id] = seq
	return true
}
