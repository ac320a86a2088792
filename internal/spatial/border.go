package spatial

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/chesapeake-lu/landuse/internal/workpool"
)

// BorderTolerance is the distance in metres within which two edges are
// treated as collinear when measuring a shared border.
const BorderTolerance = 1e-4

// BorderVariant selects how SharedBorderFraction accumulates.
type BorderVariant int

const (
	// Majority stops once the shared length exceeds half the perimeter.
	Majority BorderVariant = iota
	// Threshold always measures the full shared length.
	Threshold
)

// SharedLength returns the length of the patch boundary that coincides
// with the union of the touching geometries' edges. Overlapping touching
// edges are counted once.
func SharedLength(patch geom.T, touching []geom.T) float64 {
	if patch == nil {
		return 0
	}
	return sharedLength(newShape(patch), shapesOf(touching), 0)
}

// SharedBorderFraction returns the fraction of the patch perimeter shared
// with the union of touching, in [0,1]. With Majority the result is only
// exact up to the point where it passes 0.5.
func SharedBorderFraction(patch geom.T, touching []geom.T, variant BorderVariant) float64 {
	if patch == nil {
		return 0
	}
	p := newShape(patch)
	perim := p.perimeter()
	if perim == 0 {
		return 0
	}
	stop := 0.0
	if variant == Majority {
		stop = perim / 2
	}
	return math.Min(1, sharedLength(p, shapesOf(touching), stop)/perim)
}

func shapesOf(gs []geom.T) []*shape {
	out := make([]*shape, 0, len(gs))
	for _, g := range gs {
		if g == nil {
			continue
		}
		if s := newShape(g); !s.empty() {
			out = append(out, s)
		}
	}
	return out
}

// sharedLength walks every boundary edge of p and merges the parameter
// intervals covered by collinear edges of touching. A positive stopAt
// returns as soon as the running total exceeds it.
func sharedLength(p *shape, touching []*shape, stopAt float64) float64 {
	if len(touching) == 0 {
		return 0
	}
	var total float64
	var iv [][2]float64
	p.eachBoundarySegment(func(ax, ay, bx, by float64) bool {
		ux, uy := bx-ax, by-ay
		l2 := ux*ux + uy*uy
		if l2 == 0 {
			return true
		}
		l := math.Sqrt(l2)
		segEnv := NewEnvelope(ax, ay, bx, by).Expand(BorderTolerance)

		iv = iv[:0]
		for _, t := range touching {
			if !t.env.Intersects(segEnv) {
				continue
			}
			t.eachSegment(func(cx, cy, dx, dy float64) bool {
				if !segEnv.Intersects(NewEnvelope(cx, cy, dx, dy)) {
					return true
				}
				if math.Abs(ux*(cy-ay)-uy*(cx-ax))/l > BorderTolerance ||
					math.Abs(ux*(dy-ay)-uy*(dx-ax))/l > BorderTolerance {
					return true
				}
				tc := (ux*(cx-ax) + uy*(cy-ay)) / l2
				td := (ux*(dx-ax) + uy*(dy-ay)) / l2
				lo, hi := math.Max(0, math.Min(tc, td)), math.Min(1, math.Max(tc, td))
				if hi > lo {
					iv = append(iv, [2]float64{lo, hi})
				}
				return true
			})
		}
		total += coveredFraction(iv) * l
		return stopAt <= 0 || total <= stopAt
	})
	return total
}

// coveredFraction returns the length of the union of [lo,hi] intervals
// inside [0,1].
func coveredFraction(iv [][2]float64) float64 {
	if len(iv) == 0 {
		return 0
	}
	sort.Slice(iv, func(i, j int) bool { return iv[i][0] < iv[j][0] })
	var sum float64
	cur := iv[0]
	for _, x := range iv[1:] {
		if x[0] <= cur[1] {
			cur[1] = math.Max(cur[1], x[1])
			continue
		}
		sum += cur[1] - cur[0]
		cur = x
	}
	return sum + cur[1] - cur[0]
}

// BorderKind selects how a shared length is compared.
type BorderKind int

const (
	// Minimum passes when the shared length exceeds Value metres.
	Minimum BorderKind = iota
	// Percent passes when the shared length exceeds Value x perimeter.
	Percent
)

// BorderTest is the comparison applied by ChunkedBorderJoin. Comparisons
// are strict, so Minimum 0 means "shares any border at all".
type BorderTest struct {
	Kind  BorderKind
	Value float64
}

// Pass applies the test to a measured shared length.
func (t BorderTest) Pass(shared, perimeter float64) bool {
	switch t.Kind {
	case Percent:
		return shared > t.Value*perimeter
	default:
		return shared > t.Value
	}
}

// ChunkedBorderJoin returns the sorted IDs of candidates whose border with
// the union of their touching reference features passes test. Candidates
// are batched like ChunkedSpatialJoin; a failed batch is logged and
// contributes nothing.
func ChunkedBorderJoin(ctx context.Context, s workpool.Submitter, candidates, reference []Feature, test BorderTest, batchSize int) ([]int64, JoinStats, error) {
	var stats JoinStats
	if len(candidates) == 0 || len(reference) == 0 {
		return nil, stats, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ix := NewIndex(reference)
	batches := workpool.Chunk(candidates, batchSize)
	stats.Batches = len(batches)

	results, errs := workpool.Map(ctx, s, batches, func(ctx context.Context, batch []Feature) ([]int64, error) {
		var ids []int64
		var touching []*shape
		for n, f := range batch {
			if n%256 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if f.Geom == nil {
				continue
			}
			p := newShape(f.Geom)
			if p.empty() {
				continue
			}
			touching = touching[:0]
			ix.search(p.env.Expand(BorderTolerance), func(i int) bool {
				if ix.items[i].ID != f.ID {
					touching = append(touching, ix.shapes[i])
				}
				return true
			})
			if len(touching) == 0 {
				continue
			}
			perim := p.perimeter()
			stop := test.Value
			if test.Kind == Percent {
				stop *= perim
			}
			// Any length strictly above the threshold decides the test, so
			// measurement can stop there.
			if test.Pass(sharedLength(p, touching, stop), perim) {
				ids = append(ids, f.ID)
			}
		}
		return ids, nil
	})

	if err := ctx.Err(); err != nil {
		return nil, stats, eris.Wrap(err, "spatial: border join cancelled")
	}

	var out []int64
	for i, err := range errs {
		if err != nil {
			stats.FailedBatches++
			logBatchFailure("spatial.border", i, len(batches[i]), err)
			continue
		}
		out = append(out, results[i]...)
	}
	out = uniqueSorted(out)
	stats.Matched = len(out)
	return out, stats, nil
}
