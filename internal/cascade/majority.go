package cascade

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/chesapeake-lu/landuse/internal/ledger"
	"github.com/chesapeake-lu/landuse/internal/pseg"
)

// MajorityRule is the per-parcel area vote. Within each parcel, the
// ps_area of in-scope rows is summed per existing label; when the largest
// label covers at least Threshold of the parcel's in-scope area, the
// parcel's target rows receive it.
//
// Every labelled in-scope row votes, excluded labels included. Targets are
// the unclassified in-scope rows and, with Overwrite, the labelled rows
// whose label is not excluded. A parcel without targets is left alone.
type MajorityRule struct {
	Meta
	Classes    []pseg.Class
	Exclusions []string
	Threshold  float64
	Overwrite  bool
}

func (r *MajorityRule) Kind() Kind { return AreaMajority }

func (r *MajorityRule) logic() string {
	return fmt.Sprintf("majority lu > %.2f and MajRep:%t", r.Threshold, r.Overwrite)
}

type target struct {
	psid int64
	lu   string
}

type parcelVote struct {
	total   float64
	byLabel map[string]float64
	targets []target
}

// ctxCheckEvery is how many snapshot rows a scan visits between context
// checks.
const ctxCheckEvery = 4096

func (r *MajorityRule) Evaluate(ctx context.Context, env *Env) ([]ledger.Assignment, error) {
	excluded := make(map[string]bool, len(r.Exclusions))
	for _, lu := range r.Exclusions {
		excluded[lu] = true
	}

	parcels := make(map[int64]*parcelVote)
	var seen int
	var ctxErr error
	env.Snap.Each(func(rec *pseg.Record) {
		if ctxErr != nil {
			return
		}
		if seen++; seen%ctxCheckEvery == 0 {
			if ctxErr = ctx.Err(); ctxErr != nil {
				return
			}
		}
		if !rec.ClassName.In(r.Classes...) {
			return
		}
		p := parcels[rec.PID]
		if p == nil {
			p = &parcelVote{byLabel: make(map[string]float64)}
			parcels[rec.PID] = p
		}
		p.total += rec.PSArea
		if !rec.Classified() {
			p.targets = append(p.targets, target{psid: rec.PSID})
			return
		}
		p.byLabel[rec.LU] += rec.PSArea
		if r.Overwrite && !excluded[rec.LU] {
			p.targets = append(p.targets, target{psid: rec.PSID, lu: rec.LU})
		}
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	winners := make(map[string][]int64)
	for _, p := range parcels {
		if len(p.targets) == 0 || len(p.byLabel) == 0 || p.total <= 0 {
			continue
		}
		lu, area := majorityLabel(p.byLabel)
		if area/p.total < r.Threshold {
			continue
		}
		for _, t := range p.targets {
			if t.lu != lu {
				winners[lu] = append(winners[lu], t.psid)
			}
		}
	}

	labels := make([]string, 0, len(winners))
	for lu := range winners {
		labels = append(labels, lu)
	}
	sort.Strings(labels)

	logic := r.logic()
	out := make([]ledger.Assignment, 0, len(labels))
	for _, lu := range labels {
		out = append(out, ledger.Assignment{PSIDs: winners[lu], LU: lu, Logic: logic, Overwrite: r.Overwrite})
	}
	return out, nil
}

// majorityLabel returns the label with the largest area. Ties resolve to
// the lexically smallest label.
func majorityLabel(byLabel map[string]float64) (string, float64) {
	labels := make([]string, 0, len(byLabel))
	for lu := range byLabel {
		labels = append(labels, lu)
	}
	sort.Strings(labels)
	areas := make([]float64, len(labels))
	for i, lu := range labels {
		areas[i] = byLabel[lu]
	}
	i := floats.MaxIdx(areas)
	return labels[i], areas[i]
}
