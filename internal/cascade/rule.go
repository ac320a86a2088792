// Package cascade runs the ordered land-use rule cascade over a ledger.
//
// Rules are values. Each one reads a ledger snapshot (plus ancillary
// layers) and returns the assignments it wants made; the Engine applies
// them through the ledger's write-once mutation point, in rule order.
package cascade

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/chesapeake-lu/landuse/internal/ledger"
	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/raster"
	"github.com/chesapeake-lu/landuse/internal/spatial"
	"github.com/chesapeake-lu/landuse/internal/workpool"
)

// Kind is the rule archetype.
type Kind int

const (
	Direct Kind = iota
	Overlay
	Adjacency
	AreaMajority
	Timber
	CatchAll
)

var kindNames = [...]string{"direct", "overlay", "adjacency", "area-majority", "timber", "catch-all"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ErrNotApplicable is returned by rules that do not apply to the current
// county (for example a state-specific overlay). The engine records the
// rule as skipped.
var ErrNotApplicable = eris.New("cascade: rule not applicable")

// Ancillary serves the reference layers rules overlay.
// *ancillary.Resolver implements it.
type Ancillary interface {
	Vector(ctx context.Context, name string, extent spatial.Envelope) ([]spatial.Feature, error)
	Raster(ctx context.Context, name string, extent spatial.Envelope) (*raster.Grid, error)
}

// Env is everything a rule may read.
type Env struct {
	Snap      ledger.Snapshot
	Pool      workpool.Submitter
	Anci      Ancillary
	State     string
	BatchSize int
}

// candidates selects rows a rule may write. Without overwrite only
// unclassified rows are eligible; with it where must decide on its own.
func (e *Env) candidates(where ledger.Predicate, overwrite bool) []pseg.Record {
	if where == nil {
		where = ledger.All
	}
	if overwrite {
		return e.Snap.Select(where)
	}
	return e.Snap.SelectUnclassified(where)
}

// Rule is one step of the cascade.
type Rule interface {
	Name() string
	Step() int
	Kind() Kind
	Evaluate(ctx context.Context, env *Env) ([]ledger.Assignment, error)
}

// Meta carries the identity shared by every rule type.
type Meta struct {
	RuleName string
	StepNo   int
}

func (m Meta) Name() string { return m.RuleName }
func (m Meta) Step() int     { return m.StepNo }

// features converts records to spatial features, dropping rows without
// geometry.
func features(recs []pseg.Record) []spatial.Feature {
	out := make([]spatial.Feature, 0, len(recs))
	for i := range recs {
		if recs[i].Geom == nil {
			continue
		}
		out = append(out, spatial.Feature{ID: recs[i].PSID, Geom: recs[i].Geom})
	}
	return out
}

func ids(recs []pseg.Record) []int64 {
	out := make([]int64, len(recs))
	for i := range recs {
		out[i] = recs[i].PSID
	}
	return out
}

func assign(psids []int64, lu, logic string, overwrite bool) []ledger.Assignment {
	if len(psids) == 0 {
		return nil
	}
	return []ledger.Assignment{{PSIDs: psids, LU: lu, Logic: logic, Overwrite: overwrite}}
}

// expandState substitutes {state} in a layer name.
func expandState(layer, state string) string {
	return strings.ReplaceAll(layer, "{state}", state)
}
