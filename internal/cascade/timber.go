package cascade

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/chesapeake-lu/landuse/internal/ledger"
	"github.com/chesapeake-lu/landuse/internal/raster"
	"github.com/chesapeake-lu/landuse/internal/spatial"
)

// LCMAP primary-pattern classes counted as clearing.
const (
	patternDeforestation int32 = 2
	patternHarvest       int32 = 4
)

// TimberRule detects recent clearing from the LCMAP rasters. A row is
// cleared when at least MinFraction of its valid pattern pixels are
// deforestation or harvest and at least one harvest pixel is present. The
// majority succession age then splits cleared rows: MaxAge or younger is
// harvested forest, older is natural succession.
type TimberRule struct {
	Meta
	Where        ledger.Predicate
	PatternLayer string
	AgeLayer     string
	MinFraction  float64
	MaxAge       int32

	HarvestLU       string
	HarvestLogic    string
	SuccessionLU    string
	SuccessionLogic string
}

func (r *TimberRule) Kind() Kind { return Timber }

func (r *TimberRule) Evaluate(ctx context.Context, env *Env) ([]ledger.Assignment, error) {
	fs := features(env.candidates(r.Where, false))
	if len(fs) == 0 {
		return nil, nil
	}

	patterns, err := env.Anci.Raster(ctx, r.PatternLayer, spatial.EnvelopeOfFeatures(fs))
	if err != nil {
		return nil, err
	}
	tab, err := raster.ChunkedZonalAggregate(ctx, env.Pool, fs, patterns, raster.ZonalOptions{
		Op:        raster.TabulateArea,
		Classes:   []int32{patternDeforestation, patternHarvest},
		BatchSize: env.BatchSize,
	})
	if err != nil {
		return nil, eris.Wrap(err, "cascade: tabulate timber patterns")
	}

	var cleared []spatial.Feature
	for _, f := range fs {
		res := tab[f.ID]
		if res.Valid == 0 || len(res.Counts) < 2 || res.Counts[1] == 0 {
			continue
		}
		if float64(res.Counts[0]+res.Counts[1])/float64(res.Valid) >= r.MinFraction {
			cleared = append(cleared, f)
		}
	}
	if len(cleared) == 0 {
		return nil, nil
	}

	ages, err := env.Anci.Raster(ctx, r.AgeLayer, spatial.EnvelopeOfFeatures(cleared))
	if err != nil {
		return nil, err
	}
	maj, err := raster.ChunkedZonalAggregate(ctx, env.Pool, cleared, ages, raster.ZonalOptions{
		Op: raster.Majority,
		// Ages above 100 flag pixels developed before the series began.
		Remap: func(v int32) int32 {
			if v > 100 {
				return v - 100
			}
			return v
		},
		BatchSize: env.BatchSize,
	})
	if err != nil {
		return nil, eris.Wrap(err, "cascade: succession age majority")
	}

	var harvested, succeeded []int64
	for _, f := range cleared {
		if maj[f.ID].Majority <= r.MaxAge {
			harvested = append(harvested, f.ID)
		} else {
			succeeded = append(succeeded, f.ID)
		}
	}
	out := assign(harvested, r.HarvestLU, r.HarvestLogic, false)
	return append(out, assign(succeeded, r.SuccessionLU, r.SuccessionLogic, false)...), nil
}
