package raster

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/failure"
	"github.com/chesapeake-lu/landuse/internal/spatial"
	"github.com/chesapeake-lu/landuse/internal/workpool"
)

// Op selects the zonal aggregate.
type Op int

const (
	// TabulateArea counts pixels per class value.
	TabulateArea Op = iota
	// Majority returns the most frequent value.
	Majority
)

func (o Op) String() string {
	if o == Majority {
		return "majority"
	}
	return "tabulateArea"
}

// ZonalOptions configures ChunkedZonalAggregate.
type ZonalOptions struct {
	Op Op
	// Classes aligns TabulateArea counts. For Majority it restricts the
	// candidate values; nil allows any value.
	Classes []int32
	// Exclude lists values treated like nodata.
	Exclude []int32
	// Remap, when set, is applied to every valid value before counting.
	Remap     func(v int32) int32
	BatchSize int
}

// ZonalResult is the aggregate for one zone.
type ZonalResult struct {
	// Counts is aligned with ZonalOptions.Classes (TabulateArea only).
	Counts []int64
	// Majority is the most frequent value, lowest on ties, 0 when the zone
	// has no valid pixels.
	Majority int32
	// Valid counts pixels inside the zone that are neither nodata nor
	// excluded.
	Valid int64
}

// Mask returns the values of every pixel whose centre is covered by zone.
// Nodata pixels are included; callers filter them.
func Mask(zone spatial.Feature, g *Grid) ([]int32, error) {
	if zone.Geom == nil {
		return nil, failure.NewGeometryError(zone.ID, "mask", eris.New("nil geometry"))
	}
	pt := spatial.NewPointTester(zone.Geom)
	if !pt.Polygonal() {
		return nil, failure.NewGeometryError(zone.ID, "mask", eris.New("zone has no area"))
	}
	c0, r0, c1, r1, ok := g.Window(pt.Envelope())
	if !ok {
		return nil, nil
	}
	var out []int32
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			x, y := g.Centre(c, r)
			if pt.Covers(x, y) {
				out = append(out, g.At(c, r))
			}
		}
	}
	return out, nil
}

// ChunkedZonalAggregate computes opts.Op for every zone over g. Zones are
// processed in batches on s. A zone that fails to mask gets the zero
// result (zero counts, majority 0) and is logged.
func ChunkedZonalAggregate(ctx context.Context, s workpool.Submitter, zones []spatial.Feature, g *Grid, opts ZonalOptions) (map[int64]ZonalResult, error) {
	log := zap.L().With(zap.String("component", "raster.zonal"))
	out := make(map[int64]ZonalResult, len(zones))
	if len(zones) == 0 {
		return out, nil
	}
	if g == nil {
		return nil, eris.New("raster: zonal aggregate without grid")
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = spatial.DefaultBatchSize
	}

	exclude := make(map[int32]bool, len(opts.Exclude)+1)
	exclude[g.NoData] = true
	for _, v := range opts.Exclude {
		exclude[v] = true
	}
	classIdx := make(map[int32]int, len(opts.Classes))
	for i, v := range opts.Classes {
		classIdx[v] = i
	}

	type zoneResult struct {
		id  int64
		res ZonalResult
	}
	batches := workpool.Chunk(zones, batchSize)
	results, errs := workpool.Map(ctx, s, batches, func(ctx context.Context, batch []spatial.Feature) ([]zoneResult, error) {
		rs := make([]zoneResult, 0, len(batch))
		for n, z := range batch {
			if n%256 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			vals, err := Mask(z, g)
			if err != nil {
				log.Debug("zone mask failed", zap.Int64("zone", z.ID), zap.Error(err))
				rs = append(rs, zoneResult{z.ID, zeroResult(opts)})
				continue
			}
			rs = append(rs, zoneResult{z.ID, aggregate(vals, opts, exclude, classIdx)})
		}
		return rs, nil
	})
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "raster: zonal aggregate cancelled")
	}

	for i, err := range errs {
		if err != nil {
			log.Warn("batch failed, zones get zero results", zap.Int("batch", i), zap.Error(err))
			for _, z := range batches[i] {
				out[z.ID] = zeroResult(opts)
			}
			continue
		}
		for _, r := range results[i] {
			out[r.id] = r.res
		}
	}
	return out, nil
}

func zeroResult(opts ZonalOptions) ZonalResult {
	if opts.Op == TabulateArea {
		return ZonalResult{Counts: make([]int64, len(opts.Classes))}
	}
	return ZonalResult{}
}

func aggregate(vals []int32, opts ZonalOptions, exclude map[int32]bool, classIdx map[int32]int) ZonalResult {
	res := zeroResult(opts)
	freq := make(map[int32]int64)
	for _, v := range vals {
		if exclude[v] {
			continue
		}
		if opts.Remap != nil {
			v = opts.Remap(v)
		}
		res.Valid++
		if opts.Op == TabulateArea {
			if i, ok := classIdx[v]; ok {
				res.Counts[i]++
			}
			continue
		}
		if len(classIdx) > 0 {
			if _, ok := classIdx[v]; !ok {
				continue
			}
		}
		freq[v]++
	}
	if opts.Op == Majority {
		res.Majority = MajorityValue(freq)
	}
	return res
}

// MajorityValue returns the key with the highest count. Ties resolve to
// the lowest value; an empty map yields 0.
func MajorityValue(freq map[int32]int64) int32 {
	keys := make([]int32, 0, len(freq))
	for k := range freq {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var best int32
	var bestN int64
	for _, k := range keys {
		if n := freq[k]; n > bestN {
			best, bestN = k, n
		}
	}
	return best
}
