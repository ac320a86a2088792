package cascade

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/chesapeake-lu/landuse/internal/ledger"
	"github.com/chesapeake-lu/landuse/internal/spatial"
)

// DirectRule assigns LU to rows matching an attribute predicate.
type DirectRule struct {
	Meta
	Where ledger.Predicate
	LU    string
	Logic string
	// Overwrite lets the rule replace existing labels. Where is then
	// evaluated against every row and must select the labels to replace.
	Overwrite bool
}

func (r *DirectRule) Kind() Kind { return Direct }

func (r *DirectRule) Evaluate(ctx context.Context, env *Env) ([]ledger.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs := env.candidates(r.Where, r.Overwrite)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return assign(ids(recs), r.LU, r.Logic, r.Overwrite), nil
}

// CatchAllRule labels every row still unclassified.
type CatchAllRule struct {
	Meta
	LU    string
	Logic string
}

func (r *CatchAllRule) Kind() Kind { return CatchAll }

func (r *CatchAllRule) Evaluate(ctx context.Context, env *Env) ([]ledger.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs := env.candidates(ledger.All, false)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return assign(ids(recs), r.LU, r.Logic, false), nil
}

// OverlayRule assigns LU to candidate rows that intersect an ancillary
// vector layer.
type OverlayRule struct {
	Meta
	Where ledger.Predicate
	// Layer names the ancillary layer; {state} expands to the county's
	// postal code.
	Layer string
	// States restricts the rule to counties in these states when set.
	States    []string
	Predicate spatial.Predicate
	LU        string
	Logic     string
	Overwrite bool
}

func (r *OverlayRule) Kind() Kind { return Overlay }

func (r *OverlayRule) Evaluate(ctx context.Context, env *Env) ([]ledger.Assignment, error) {
	if len(r.States) > 0 && !slices.Contains(r.States, env.State) {
		return nil, ErrNotApplicable
	}
	fs := features(env.candidates(r.Where, r.Overwrite))
	if len(fs) == 0 {
		return nil, nil
	}
	layer := expandState(r.Layer, env.State)
	anci, err := env.Anci.Vector(ctx, layer, spatial.EnvelopeOfFeatures(fs))
	if err != nil {
		return nil, err
	}
	hit, _, err := spatial.ChunkedSpatialJoin(ctx, env.Pool, fs, anci, r.Predicate, env.BatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "cascade: overlay %s", layer)
	}
	return assign(hit, r.LU, r.Logic, r.Overwrite), nil
}

// AdjacencyRule assigns LU to unclassified candidates whose border with
// reference rows passes Test. Reference rows are drawn from the whole
// ledger, classified or not.
type AdjacencyRule struct {
	Meta
	Candidates ledger.Predicate
	Reference  ledger.Predicate
	Test       spatial.BorderTest
	LU         string
	Logic      string
}

func (r *AdjacencyRule) Kind() Kind { return Adjacency }

func (r *AdjacencyRule) Evaluate(ctx context.Context, env *Env) ([]ledger.Assignment, error) {
	cands := features(env.candidates(r.Candidates, false))
	if len(cands) == 0 {
		return nil, nil
	}
	ref := features(env.Snap.Select(r.Reference))
	if len(ref) == 0 {
		return nil, nil
	}
	hit, _, err := spatial.ChunkedBorderJoin(ctx, env.Pool, cands, ref, r.Test, env.BatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "cascade: adjacency %s", r.RuleName)
	}
	return assign(hit, r.LU, r.Logic, false), nil
}
