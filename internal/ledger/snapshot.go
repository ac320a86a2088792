package ledger

import "github.com/chesapeake-lu/landuse/internal/pseg"

// Snapshot is a read-only view over the ledger handed to rules. Records
// passed to callbacks point into the ledger and must not be modified or
// retained.
type Snapshot struct {
	l *Ledger
}

// Len returns the number of records.
func (s Snapshot) Len() int {
	return len(s.l.recs)
}

// Get returns a copy of the record with psid.
func (s Snapshot) Get(psid int64) (pseg.Record, bool) {
	return s.l.Get(psid)
}

// Select returns copies of every row matching pred, classified or not.
func (s Snapshot) Select(pred Predicate) []pseg.Record {
	var out []pseg.Record
	for i := range s.l.recs {
		if pred(&s.l.recs[i]) {
			out = append(out, s.l.recs[i])
		}
	}
	return out
}

// SelectUnclassified returns copies of rows where lu is null and pred holds.
func (s Snapshot) SelectUnclassified(pred Predicate) []pseg.Record {
	return s.Select(func(r *pseg.Record) bool {
		return !r.Classified() && pred(r)
	})
}

// Each calls fn for every record in PSID order.
func (s Snapshot) Each(fn func(r *pseg.Record)) {
	for i := range s.l.recs {
		fn(&s.l.recs[i])
	}
}
