// Package spatial holds the geometry primitives the rule cascade is built
// on: predicates, an R-tree index, the chunked spatial join, shared-border
// measurement and grouping by adjacency. Nothing here knows about land use.
package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Feature is an identified geometry.
type Feature struct {
	ID   int64
	Geom geom.T
}

// Envelope is an axis-aligned bounding box. The zero value is empty.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
	valid                  bool
}

// NewEnvelope returns the envelope spanning the two corners.
func NewEnvelope(minX, minY, maxX, maxY float64) Envelope {
	return Envelope{
		MinX: math.Min(minX, maxX), MinY: math.Min(minY, maxY),
		MaxX: math.Max(minX, maxX), MaxY: math.Max(minY, maxY),
		valid: true,
	}
}

// EnvelopeOf returns the envelope of g, empty for nil or empty geometries.
func EnvelopeOf(g geom.T) Envelope {
	if g == nil || isEmpty(g) {
		return Envelope{}
	}
	b := g.Bounds()
	if b.IsEmpty() {
		return Envelope{}
	}
	return NewEnvelope(b.Min(0), b.Min(1), b.Max(0), b.Max(1))
}

// EnvelopeOfFeatures returns the envelope covering every feature.
func EnvelopeOfFeatures(fs []Feature) Envelope {
	var e Envelope
	for _, f := range fs {
		e = e.Union(EnvelopeOf(f.Geom))
	}
	return e
}

// IsEmpty reports whether e covers nothing.
func (e Envelope) IsEmpty() bool {
	return !e.valid
}

// Union returns the smallest envelope covering e and o.
func (e Envelope) Union(o Envelope) Envelope {
	switch {
	case !o.valid:
		return e
	case !e.valid:
		return o
	}
	return NewEnvelope(math.Min(e.MinX, o.MinX), math.Min(e.MinY, o.MinY),
		math.Max(e.MaxX, o.MaxX), math.Max(e.MaxY, o.MaxY))
}

// Intersects reports whether e and o share any point.
func (e Envelope) Intersects(o Envelope) bool {
	if !e.valid || !o.valid {
		return false
	}
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Covers reports whether o lies entirely inside e.
func (e Envelope) Covers(o Envelope) bool {
	if !e.valid || !o.valid {
		return false
	}
	return e.MinX <= o.MinX && e.MinY <= o.MinY && e.MaxX >= o.MaxX && e.MaxY >= o.MaxY
}

// Expand grows e by d on every side.
func (e Envelope) Expand(d float64) Envelope {
	if !e.valid {
		return e
	}
	return NewEnvelope(e.MinX-d, e.MinY-d, e.MaxX+d, e.MaxY+d)
}

// Min and Max return the corners in the form the R-tree expects.
func (e Envelope) Min() [2]float64 { return [2]float64{e.MinX, e.MinY} }

// Max returns the upper-right corner.
func (e Envelope) Max() [2]float64 { return [2]float64{e.MaxX, e.MaxY} }

// shape is a geometry flattened to XY coordinates and split by dimension.
// Rings are closed; polys[i][0] is the shell and the rest are holes.
type shape struct {
	polys  [][][]float64
	lines  [][]float64
	points [][2]float64
	env    Envelope
}

func newShape(g geom.T) *shape {
	s := &shape{}
	s.add(g)
	return s
}

func (s *shape) empty() bool {
	return len(s.polys) == 0 && len(s.lines) == 0 && len(s.points) == 0
}

func (s *shape) polygonal() bool {
	return len(s.polys) > 0 && len(s.lines) == 0 && len(s.points) == 0
}

func (s *shape) add(g geom.T) {
	switch g := g.(type) {
	case *geom.Point:
		if g.Empty() {
			return
		}
		c := g.FlatCoords()
		s.addPoint(c[0], c[1])
	case *geom.MultiPoint:
		for i := 0; i < g.NumPoints(); i++ {
			s.add(g.Point(i))
		}
	case *geom.LineString:
		if line := flatXY(g.FlatCoords(), g.Stride()); len(line) >= 4 {
			s.lines = append(s.lines, line)
			s.extend(line)
		}
	case *geom.MultiLineString:
		for i := 0; i < g.NumLineStrings(); i++ {
			s.add(g.LineString(i))
		}
	case *geom.Polygon:
		var rings [][]float64
		for i := 0; i < g.NumLinearRings(); i++ {
			r := g.LinearRing(i)
			ring := closeRing(flatXY(r.FlatCoords(), r.Stride()))
			if len(ring) < 8 {
				if i == 0 {
					return
				}
				continue
			}
			rings = append(rings, ring)
		}
		if len(rings) > 0 {
			s.polys = append(s.polys, rings)
			s.extend(rings[0])
		}
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			s.add(g.Polygon(i))
		}
	case *geom.GeometryCollection:
		for _, c := range g.Geoms() {
			s.add(c)
		}
	}
}

func (s *shape) addPoint(x, y float64) {
	s.points = append(s.points, [2]float64{x, y})
	s.env = s.env.Union(NewEnvelope(x, y, x, y))
}

func (s *shape) extend(flat []float64) {
	for i := 0; i+1 < len(flat); i += 2 {
		s.env = s.env.Union(NewEnvelope(flat[i], flat[i+1], flat[i], flat[i+1]))
	}
}

// eachSegment calls fn for every polygon edge and line segment until fn
// returns false.
func (s *shape) eachSegment(fn func(ax, ay, bx, by float64) bool) bool {
	for _, p := range s.polys {
		for _, r := range p {
			if !eachSegmentOf(r, fn) {
				return false
			}
		}
	}
	for _, l := range s.lines {
		if !eachSegmentOf(l, fn) {
			return false
		}
	}
	return true
}

// eachBoundarySegment visits polygon ring edges only.
func (s *shape) eachBoundarySegment(fn func(ax, ay, bx, by float64) bool) bool {
	for _, p := range s.polys {
		for _, r := range p {
			if !eachSegmentOf(r, fn) {
				return false
			}
		}
	}
	return true
}

func eachSegmentOf(flat []float64, fn func(ax, ay, bx, by float64) bool) bool {
	for i := 0; i+3 < len(flat); i += 2 {
		if !fn(flat[i], flat[i+1], flat[i+2], flat[i+3]) {
			return false
		}
	}
	return true
}

// vertices visits every vertex, including isolated points.
func (s *shape) vertices(fn func(x, y float64) bool) bool {
	for _, p := range s.points {
		if !fn(p[0], p[1]) {
			return false
		}
	}
	visit := func(flat []float64) bool {
		for i := 0; i+1 < len(flat); i += 2 {
			if !fn(flat[i], flat[i+1]) {
				return false
			}
		}
		return true
	}
	for _, p := range s.polys {
		for _, r := range p {
			if !visit(r) {
				return false
			}
		}
	}
	for _, l := range s.lines {
		if !visit(l) {
			return false
		}
	}
	return true
}

// perimeter is the total length of every polygon ring.
func (s *shape) perimeter() float64 {
	var total float64
	s.eachBoundarySegment(func(ax, ay, bx, by float64) bool {
		total += math.Hypot(bx-ax, by-ay)
		return true
	})
	return total
}

func flatXY(flat []float64, stride int) []float64 {
	if stride == 2 {
		return flat
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

func closeRing(flat []float64) []float64 {
	n := len(flat)
	if n < 4 {
		return flat
	}
	if flat[0] == flat[n-2] && flat[1] == flat[n-1] {
		return flat
	}
	out := make([]float64, n, n+2)
	copy(out, flat)
	return append(out, flat[0], flat[1])
}

func isEmpty(g geom.T) bool {
	return g.Empty()
}

// Perimeter returns the boundary length of the polygonal parts of g.
func Perimeter(g geom.T) float64 {
	if g == nil {
		return 0
	}
	return newShape(g).perimeter()
}

// Orient returns a copy of mp with outer rings counter-clockwise and holes
// clockwise, so mp.Area() is the unsigned covered area whatever winding
// the source used. Nil stays nil.
func Orient(mp *geom.MultiPolygon) *geom.MultiPolygon {
	if mp == nil {
		return nil
	}
	out := mp.Clone()
	flat, stride := out.FlatCoords(), out.Stride()
	offset := 0
	for _, ends := range out.Endss() {
		for i, end := range ends {
			ring := flat[offset:end]
			a := ringDoubleArea(ring, stride)
			if (i == 0 && a < 0) || (i > 0 && a > 0) {
				reverseRing(ring, stride)
			}
			offset = end
		}
	}
	return out
}

// ringDoubleArea is twice the signed ring area, positive when
// counter-clockwise. Same sign convention as go-geom's Area.
func ringDoubleArea(flat []float64, stride int) float64 {
	var a float64
	for i := stride; i+1 < len(flat); i += stride {
		a += (flat[i+1] - flat[i+1-stride]) * (flat[i] + flat[i-stride])
	}
	return a
}

func reverseRing(flat []float64, stride int) {
	n := len(flat) / stride
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		for k := 0; k < stride; k++ {
			flat[i*stride+k], flat[j*stride+k] = flat[j*stride+k], flat[i*stride+k]
		}
	}
}
