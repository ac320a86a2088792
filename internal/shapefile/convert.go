// Package shapefile converts between ESRI shapefiles and go-geom
// geometries. It backs ancillary vector layers and the shapefile export.
package shapefile

import (
	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/spatial"
)

// ToGeom converts a go-shp shape to a go-geom geometry with srid. Returns
// nil for null or unsupported shapes.
func ToGeom(s shp.Shape, srid int) geom.T {
	switch s := s.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(srid)
	case *shp.MultiPoint:
		flat := make([]float64, 0, 2*len(s.Points))
		for _, p := range s.Points {
			flat = append(flat, p.X, p.Y)
		}
		return geom.NewMultiPointFlat(geom.XY, flat).SetSRID(srid)
	case *shp.PolyLine:
		return polyLineToMultiLineString(s.Parts, s.Points, srid)
	case *shp.Polygon:
		return polygonToMultiPolygon(s.Parts, s.Points, srid)
	}
	return nil
}

func partBounds(parts []int32, n int, i int) (int32, int32) {
	start := parts[i]
	end := int32(n)
	if i+1 < len(parts) {
		end = parts[i+1]
	}
	return start, end
}

func polyLineToMultiLineString(parts []int32, pts []shp.Point, srid int) geom.T {
	if len(parts) == 0 || len(pts) == 0 {
		return nil
	}
	mls := geom.NewMultiLineString(geom.XY).SetSRID(srid)
	for i := range parts {
		start, end := partBounds(parts, len(pts), i)
		if end-start < 2 {
			continue
		}
		ls := geom.NewLineStringFlat(geom.XY, flatPoints(pts[start:end]))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("shapefile: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// polygonToMultiPolygon groups rings into polygons. Shapefile outer rings
// are clockwise and holes counter-clockwise; each hole is attached to the
// most recent outer ring. The result is rewound to go-geom's convention.
func polygonToMultiPolygon(parts []int32, pts []shp.Point, srid int) geom.T {
	if len(parts) == 0 || len(pts) == 0 {
		return nil
	}
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
	var cur *geom.Polygon
	flush := func() {
		if cur == nil {
			return
		}
		if err := mp.Push(cur); err != nil {
			zap.L().Debug("shapefile: skipping malformed polygon", zap.Error(err))
		}
		cur = nil
	}

	for i := range parts {
		start, end := partBounds(parts, len(pts), i)
		if end-start < 4 {
			continue
		}
		flat := flatPoints(pts[start:end])
		ring := geom.NewLinearRingFlat(geom.XY, flat)
		if signedArea(flat) <= 0 || cur == nil {
			// Clockwise (or the first ring): a new outer ring.
			flush()
			cur = geom.NewPolygon(geom.XY)
		}
		if err := cur.Push(ring); err != nil {
			zap.L().Debug("shapefile: skipping malformed ring", zap.Int("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return spatial.Orient(mp)
}

// signedArea is positive for counter-clockwise rings.
func signedArea(flat []float64) float64 {
	var a float64
	for i := 0; i+3 < len(flat); i += 2 {
		a += flat[i]*flat[i+3] - flat[i+2]*flat[i+1]
	}
	return a / 2
}

func flatPoints(pts []shp.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

// FromPolygonal converts a polygon or multipolygon to a shapefile polygon
// with clockwise outer rings and counter-clockwise holes. Returns nil for
// other geometry types or empty input.
func FromPolygonal(g geom.T) *shp.Polygon {
	var polys []*geom.Polygon
	switch g := g.(type) {
	case *geom.Polygon:
		polys = []*geom.Polygon{g}
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			polys = append(polys, g.Polygon(i))
		}
	default:
		return nil
	}

	var rings [][]shp.Point
	for _, p := range polys {
		for i := 0; i < p.NumLinearRings(); i++ {
			r := p.LinearRing(i)
			flat := r.FlatCoords()
			stride := r.Stride()
			pts := make([]shp.Point, 0, len(flat)/stride)
			for j := 0; j+1 < len(flat); j += stride {
				pts = append(pts, shp.Point{X: flat[j], Y: flat[j+1]})
			}
			if len(pts) < 4 {
				continue
			}
			ccw := signedArea(flatPoints(pts)) > 0
			if (i == 0 && ccw) || (i > 0 && !ccw) {
				reverse(pts)
			}
			rings = append(rings, pts)
		}
	}
	if len(rings) == 0 {
		return nil
	}
	pl := shp.NewPolyLine(rings)
	poly := shp.Polygon(*pl)
	return &poly
}

func reverse(pts []shp.Point) {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}
