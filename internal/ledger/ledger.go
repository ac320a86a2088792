// Package ledger holds the authoritative pseg table during classification.
//
// The ledger is owned by a single cascade driver. Rules read it through a
// Snapshot and hand back Assignments; AssignLU/Apply is the only mutation
// point and enforces write-once semantics on lu and logic.
package ledger

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/pseg"
)

// Predicate selects records. Implementations must not retain r.
type Predicate func(r *pseg.Record) bool

// All matches every record.
func All(*pseg.Record) bool { return true }

// Assignment is a batch of (lu, logic) writes produced by one rule.
// LU and Logic may contain the {class} placeholder, expanded per record.
type Assignment struct {
	PSIDs     []int64
	LU        string
	Logic     string
	Overwrite bool
}

// Ledger is the in-memory pseg table.
type Ledger struct {
	recs  []pseg.Record
	index map[int64]int
}

// New builds a ledger from prepared records, taking ownership of recs.
// Records are kept in PSID order; PSIDs must be unique.
func New(recs []pseg.Record) (*Ledger, error) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].PSID < recs[j].PSID })
	l := &Ledger{
		recs:  recs,
		index: make(map[int64]int, len(recs)),
	}
	for i := range recs {
		id := recs[i].PSID
		if _, dup := l.index[id]; dup {
			return nil, eris.Errorf("ledger: duplicate PSID %d", id)
		}
		l.index[id] = i
	}
	return l, nil
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.recs)
}

// Get returns a copy of the record with psid.
func (l *Ledger) Get(psid int64) (pseg.Record, bool) {
	i, ok := l.index[psid]
	if !ok {
		return pseg.Record{}, false
	}
	return l.recs[i], true
}

// Snapshot returns a read-only view of the current table state. The view
// is only valid until the next mutation.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{l: l}
}

// SelectUnclassified returns copies of the rows where lu is null and pred
// holds, in PSID order.
func (l *Ledger) SelectUnclassified(pred Predicate) []pseg.Record {
	return l.Snapshot().SelectUnclassified(pred)
}

// Unclassified counts rows with a null lu.
func (l *Ledger) Unclassified() int {
	n := 0
	for i := range l.recs {
		if !l.recs[i].Classified() {
			n++
		}
	}
	return n
}

// UnclassifiedIDs returns up to limit PSIDs of rows with a null lu.
func (l *Ledger) UnclassifiedIDs(limit int) []int64 {
	var ids []int64
	for i := range l.recs {
		if l.recs[i].Classified() {
			continue
		}
		ids = append(ids, l.recs[i].PSID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids
}

// AssignLU writes lu and logic into the given rows. Without allowOverwrite
// only rows whose lu is null are written; with it every listed row is
// overwritten. Returns the number of rows written.
func (l *Ledger) AssignLU(ids []int64, lu, logic string, allowOverwrite bool) int {
	return l.Apply(Assignment{PSIDs: ids, LU: lu, Logic: logic, Overwrite: allowOverwrite})
}

// Apply writes one Assignment. Identifiers are de-duplicated and visited in
// ascending order, so the outcome does not depend on the order in which a
// parallel primitive produced them. Unknown identifiers are ignored.
func (l *Ledger) Apply(a Assignment) int {
	if a.LU == "" {
		return 0
	}
	ids := Dedup(a.PSIDs)
	written := 0
	for _, id := range ids {
		i, ok := l.index[id]
		if !ok {
			zap.L().Debug("ledger: assignment to unknown PSID", zap.Int64("psid", id))
			continue
		}
		r := &l.recs[i]
		if r.Classified() && !a.Overwrite {
			continue
		}
		lu := pseg.ExpandLabel(a.LU, r.ClassName)
		logic := pseg.ExpandLabel(a.Logic, r.ClassName)
		if r.LU == lu && r.Logic == logic {
			continue
		}
		r.LU = lu
		r.Logic = logic
		written++
	}
	return written
}

// Relabel rewrites every non-null lu through fn. It is used once, after the
// cascade, to normalize label spelling; it is not a classification write.
func (l *Ledger) Relabel(fn func(string) string) int {
	changed := 0
	for i := range l.recs {
		r := &l.recs[i]
		if r.LU == "" {
			continue
		}
		if nl := fn(r.LU); nl != r.LU {
			r.LU = nl
			changed++
		}
	}
	return changed
}

// CodeLookup resolves a final label to its numeric code.
type CodeLookup interface {
	Code(lu string) (int, bool)
}

// FinalizeCodes maps every lu to lucode. Labels without an entry get 0 and
// are returned (sorted, de-duplicated) so the caller can report them.
func (l *Ledger) FinalizeCodes(lookup CodeLookup) []string {
	log := zap.L().With(zap.String("component", "ledger.finalize"))
	missing := make(map[string]int)
	for i := range l.recs {
		r := &l.recs[i]
		code, ok := lookup.Code(r.LU)
		if !ok {
			missing[r.LU]++
			code = 0
		}
		r.LUCode = code
	}

	labels := make([]string, 0, len(missing))
	for lu, n := range missing {
		log.Warn("lu has no lucode", zap.String("lu", lu), zap.Int("rows", n))
		labels = append(labels, lu)
	}
	sort.Strings(labels)
	return labels
}

// Records returns a copy of every record in PSID order.
func (l *Ledger) Records() []pseg.Record {
	out := make([]pseg.Record, len(l.recs))
	copy(out, l.recs)
	return out
}

// Counts returns the number of rows per lu value ("" for null).
func (l *Ledger) Counts() map[string]int {
	out := make(map[string]int)
	for i := range l.recs {
		out[l.recs[i].LU]++
	}
	return out
}

// Dedup returns ids sorted ascending without duplicates.
func Dedup(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
