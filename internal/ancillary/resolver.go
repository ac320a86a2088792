// Package ancillary resolves the named reference layers the cascade
// overlays: shapefile or GeoPackage vectors and GeoTIFF rasters. Layers are
// loaded lazily on first use and cached per (layer, extent) for the life of
// one county run.
package ancillary

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/failure"
	"github.com/chesapeake-lu/landuse/internal/gpkg"
	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/raster"
	"github.com/chesapeake-lu/landuse/internal/shapefile"
	"github.com/chesapeake-lu/landuse/internal/spatial"
)

// Kind is the storage kind of a layer, inferred from its file extension.
type Kind int

const (
	Vector Kind = iota
	Raster
)

func (k Kind) String() string {
	if k == Raster {
		return "raster"
	}
	return "vector"
}

// LayerSpec locates one named layer on disk.
type LayerSpec struct {
	Name string
	Path string
	// Layer is the table inside a GeoPackage; empty picks the first one.
	Layer  string
	Kind   Kind
	NoData int32
}

// ParseLayerSpec builds a spec from a configured relative path. A
// GeoPackage path may carry a "#layer" suffix.
func ParseLayerSpec(name, dir, rel string, nodata int32) (LayerSpec, error) {
	spec := LayerSpec{Name: name, NoData: nodata}
	path := rel
	if i := strings.LastIndex(rel, "#"); i >= 0 {
		path, spec.Layer = rel[:i], rel[i+1:]
	}
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	spec.Path = path

	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp", ".gpkg":
		spec.Kind = Vector
	case ".tif", ".tiff":
		spec.Kind = Raster
	default:
		return LayerSpec{}, eris.Errorf("ancillary: layer %s: unsupported file type %q", name, filepath.Ext(path))
	}
	if spec.Layer != "" && spec.Kind != Vector {
		return LayerSpec{}, eris.Errorf("ancillary: layer %s: only geopackages take a #layer suffix", name)
	}
	return spec, nil
}

// Config names the available layers.
type Config struct {
	Dir    string
	Layers map[string]string
	NoData map[string]int
}

// Stats counts cache behaviour for the run report.
type Stats struct {
	Hits   int64
	Misses int64
	Loads  int64
}

// Resolver serves clipped ancillary layers. It is safe for concurrent use.
type Resolver struct {
	specs   map[string]LayerSpec
	raw     *cache.Cache
	clipped *cache.Cache
	mu      sync.Mutex
	log     *zap.Logger

	hits, misses, loads atomic.Int64
}

// New validates cfg and returns a resolver. No file is touched until a
// layer is requested.
func New(cfg Config) (*Resolver, error) {
	specs := make(map[string]LayerSpec, len(cfg.Layers))
	for name, rel := range cfg.Layers {
		spec, err := ParseLayerSpec(name, cfg.Dir, rel, int32(cfg.NoData[name]))
		if err != nil {
			return nil, err
		}
		specs[strings.ToLower(name)] = spec
	}
	return &Resolver{
		specs:   specs,
		raw:     cache.New(cache.NoExpiration, 0),
		clipped: cache.New(cache.NoExpiration, 0),
		log:     zap.L().With(zap.String("component", "ancillary.resolver")),
	}, nil
}

// Has reports whether name is configured. It does not check the file.
// Names are case-insensitive since viper lowercases map keys.
func (r *Resolver) Has(name string) bool {
	_, ok := r.specs[strings.ToLower(name)]
	return ok
}

// Names lists the configured layers in sorted order.
func (r *Resolver) Names() []string {
	out := make([]string, 0, len(r.specs))
	for n := range r.specs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Stats returns a copy of the cache counters.
func (r *Resolver) Stats() Stats {
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load(), Loads: r.loads.Load()}
}

func extentKey(name string, e spatial.Envelope) string {
	if e.IsEmpty() {
		return name + "|*"
	}
	return fmt.Sprintf("%s|%.3f,%.3f,%.3f,%.3f", name, e.MinX, e.MinY, e.MaxX, e.MaxY)
}

func (r *Resolver) spec(name string, want Kind) (LayerSpec, error) {
	spec, ok := r.specs[strings.ToLower(name)]
	if !ok {
		return LayerSpec{}, failure.NewAncillaryMissing(name, "", eris.New("layer not configured"))
	}
	if spec.Kind != want {
		return LayerSpec{}, eris.Errorf("ancillary: layer %s is a %s, not a %s", name, spec.Kind, want)
	}
	return spec, nil
}

// Vector returns the features of name whose envelopes intersect extent. An
// empty extent returns the whole layer. A missing, unreadable or empty
// clip yields *failure.AncillaryMissing.
func (r *Resolver) Vector(ctx context.Context, name string, extent spatial.Envelope) ([]spatial.Feature, error) {
	spec, err := r.spec(name, Vector)
	if err != nil {
		return nil, err
	}
	key := extentKey(name, extent)
	if v, ok := r.clipped.Get(key); ok {
		r.hits.Add(1)
		return v.([]spatial.Feature), nil
	}
	r.misses.Add(1)

	all, err := r.loadVector(ctx, spec)
	if err != nil {
		return nil, err
	}

	var out []spatial.Feature
	if extent.IsEmpty() {
		out = all
	} else {
		for _, f := range all {
			if spatial.EnvelopeOf(f.Geom).Intersects(extent) {
				out = append(out, f)
			}
		}
	}
	if len(out) == 0 {
		return nil, failure.NewAncillaryMissing(name, spec.Path, eris.New("no features in extent"))
	}
	r.clipped.SetDefault(key, out)
	r.log.Debug("clipped vector layer",
		zap.String("layer", name),
		zap.Int("features", len(out)),
		zap.Int("total", len(all)),
	)
	return out, nil
}

// Raster returns name cropped to extent. An empty extent returns the whole
// grid. A missing file or a grid that misses extent yields
// *failure.AncillaryMissing.
func (r *Resolver) Raster(ctx context.Context, name string, extent spatial.Envelope) (*raster.Grid, error) {
	spec, err := r.spec(name, Raster)
	if err != nil {
		return nil, err
	}
	key := extentKey(name, extent)
	if v, ok := r.clipped.Get(key); ok {
		r.hits.Add(1)
		return v.(*raster.Grid), nil
	}
	r.misses.Add(1)

	g, err := r.loadRaster(ctx, spec)
	if err != nil {
		return nil, err
	}
	if !extent.IsEmpty() {
		g, err = g.Crop(extent)
		if err != nil {
			return nil, failure.NewAncillaryMissing(name, spec.Path, err)
		}
	}
	r.clipped.SetDefault(key, g)
	return g, nil
}

func (r *Resolver) loadVector(ctx context.Context, spec LayerSpec) ([]spatial.Feature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.raw.Get(spec.Name); ok {
		return v.([]spatial.Feature), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "ancillary: load vector")
	}

	var (
		fs  []spatial.Feature
		err error
	)
	if strings.EqualFold(filepath.Ext(spec.Path), ".gpkg") {
		fs, err = readGeoPackage(ctx, spec)
	} else {
		fs, err = readShapefile(spec)
	}
	if err != nil {
		return nil, failure.NewAncillaryMissing(spec.Name, spec.Path, err)
	}
	if len(fs) == 0 {
		return nil, failure.NewAncillaryMissing(spec.Name, spec.Path, eris.New("layer is empty"))
	}
	r.loads.Add(1)
	r.raw.SetDefault(spec.Name, fs)
	r.log.Info("loaded vector layer",
		zap.String("layer", spec.Name),
		zap.String("path", spec.Path),
		zap.Int("features", len(fs)),
	)
	return fs, nil
}

func (r *Resolver) loadRaster(ctx context.Context, spec LayerSpec) (*raster.Grid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.raw.Get(spec.Name); ok {
		return v.(*raster.Grid), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "ancillary: load raster")
	}
	g, err := raster.ReadGeoTIFF(spec.Path, spec.NoData)
	if err != nil {
		return nil, failure.NewAncillaryMissing(spec.Name, spec.Path, err)
	}
	r.loads.Add(1)
	r.raw.SetDefault(spec.Name, g)
	r.log.Info("loaded raster layer",
		zap.String("layer", spec.Name),
		zap.String("path", spec.Path),
		zap.Int("width", g.Width),
		zap.Int("height", g.Height),
	)
	return g, nil
}

func readShapefile(spec LayerSpec) ([]spatial.Feature, error) {
	recs, err := shapefile.Read(spec.Path, pseg.SRID, false)
	if err != nil {
		return nil, err
	}
	fs := make([]spatial.Feature, 0, len(recs))
	for _, rec := range recs {
		fs = append(fs, spatial.Feature{ID: int64(rec.Index) + 1, Geom: rec.Geom})
	}
	return fs, nil
}

func readGeoPackage(ctx context.Context, spec LayerSpec) ([]spatial.Feature, error) {
	db, err := gpkg.Open(spec.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	layer := spec.Layer
	if layer == "" {
		names, err := db.Layers(ctx)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, eris.Errorf("ancillary: %s has no feature layers", spec.Path)
		}
		layer = names[0]
	}

	l, err := db.ReadLayer(ctx, layer, spatial.Envelope{})
	if err != nil {
		return nil, err
	}
	if l.SRID != pseg.SRID {
		return nil, eris.Errorf("ancillary: %s#%s is EPSG:%d, want EPSG:%d", spec.Path, layer, l.SRID, pseg.SRID)
	}
	fs := make([]spatial.Feature, 0, len(l.Features))
	for _, f := range l.Features {
		if f.Geom == nil {
			continue
		}
		fs = append(fs, spatial.Feature{ID: f.FID, Geom: f.Geom})
	}
	return fs, nil
}
