package raster

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/spatial"
	"github.com/chesapeake-lu/landuse/internal/workpool"
)

// Valued is a feature carrying the value to burn.
type Valued struct {
	spatial.Feature
	Value int32
}

// rowsPerBand is the number of grid rows one rasterize task owns.
const rowsPerBand = 256

// Rasterize burns every feature into g using the pixel-centre rule: a pixel
// takes a feature's value when its centre is covered by the geometry.
// Where features overlap the one listed first wins. Row bands are
// rasterized in parallel on s, each band writing only its own rows.
func Rasterize(ctx context.Context, s workpool.Submitter, fs []Valued, g *Grid) error {
	if g == nil {
		return eris.New("raster: rasterize without grid")
	}
	if len(fs) == 0 {
		return nil
	}

	// Input positions stand in for IDs so duplicate IDs stay distinct.
	feats := make([]spatial.Feature, len(fs))
	for i, f := range fs {
		feats[i] = spatial.Feature{ID: int64(i), Geom: f.Geom}
	}
	ix := spatial.NewIndex(feats)

	var bands [][2]int
	for r := 0; r < g.Height; r += rowsPerBand {
		bands = append(bands, [2]int{r, min(r+rowsPerBand, g.Height) - 1})
	}

	_, errs := workpool.Map(ctx, s, bands, func(ctx context.Context, band [2]int) (struct{}, error) {
		top := g.OriginY - float64(band[0])*g.PixelSize
		bottom := g.OriginY - float64(band[1]+1)*g.PixelSize
		env := spatial.NewEnvelope(g.OriginX, bottom, g.OriginX+float64(g.Width)*g.PixelSize, top)

		var hits []int
		ix.Search(env, func(f spatial.Feature) bool {
			hits = append(hits, int(f.ID))
			return true
		})
		// Lowest input position first, so earlier features win.
		sort.Ints(hits)

		for _, i := range hits {
			if err := ctx.Err(); err != nil {
				return struct{}{}, err
			}
			pt := spatial.NewPointTester(fs[i].Geom)
			c0, r0, c1, r1, ok := g.Window(pt.Envelope())
			if !ok {
				continue
			}
			r0, r1 = max(r0, band[0]), min(r1, band[1])
			for r := r0; r <= r1; r++ {
				for c := c0; c <= c1; c++ {
					if g.At(c, r) != g.NoData {
						continue
					}
					if x, y := g.Centre(c, r); pt.Covers(x, y) {
						g.Set(c, r, fs[i].Value)
					}
				}
			}
		}
		return struct{}{}, nil
	})

	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "raster: rasterize cancelled")
	}
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			zap.L().With(zap.String("component", "raster.rasterize")).Warn("band failed",
				zap.Int("band", i), zap.Error(err))
		}
	}
	if failed > 0 {
		return eris.Errorf("raster: %d of %d bands failed", failed, len(bands))
	}
	return nil
}
