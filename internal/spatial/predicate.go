package spatial

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersection"
	"github.com/twpayne/go-geom/xy/lineintersector"
	"github.com/twpayne/go-geom/xy/location"
)

// Predicate is a binary spatial relation evaluated as left REL right.
type Predicate int

// Supported predicates.
const (
	Intersects Predicate = iota
	Contains
	Within
)

func (p Predicate) String() string {
	switch p {
	case Intersects:
		return "intersects"
	case Contains:
		return "contains"
	case Within:
		return "within"
	}
	return "unknown"
}

// ParsePredicate maps a predicate name to its value.
func ParsePredicate(s string) (Predicate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "intersects", "":
		return Intersects, nil
	case "contains":
		return Contains, nil
	case "within":
		return Within, nil
	}
	return 0, eris.Errorf("spatial: unknown predicate %q", s)
}

// Eval reports whether left REL right holds.
func (p Predicate) Eval(left, right geom.T) bool {
	if left == nil || right == nil {
		return false
	}
	return p.eval(newShape(left), newShape(right))
}

func (p Predicate) eval(a, b *shape) bool {
	if a.empty() || b.empty() {
		return false
	}
	switch p {
	case Intersects:
		return intersects(a, b)
	case Contains:
		return contains(a, b)
	case Within:
		return contains(b, a)
	}
	return false
}

var robust = lineintersector.RobustLineIntersector{}

func segmentsIntersect(ax, ay, bx, by, cx, cy, dx, dy float64) lineintersection.Result {
	return lineintersector.LineIntersectsLine(robust,
		geom.Coord{ax, ay}, geom.Coord{bx, by},
		geom.Coord{cx, cy}, geom.Coord{dx, dy})
}

func intersects(a, b *shape) bool {
	if !a.env.Intersects(b.env) {
		return false
	}

	hit := false
	a.eachSegment(func(ax, ay, bx, by float64) bool {
		sa := NewEnvelope(ax, ay, bx, by)
		if !sa.Intersects(b.env) {
			return true
		}
		b.eachSegment(func(cx, cy, dx, dy float64) bool {
			if !sa.Intersects(NewEnvelope(cx, cy, dx, dy)) {
				return true
			}
			res := segmentsIntersect(ax, ay, bx, by, cx, cy, dx, dy)
			hit = res.HasIntersection()
			return !hit
		})
		return !hit
	})
	if hit {
		return true
	}

	// No edges cross: one may lie entirely inside the other, or isolated
	// points may sit on the other's edges.
	if locateAny(a, b) || locateAny(b, a) {
		return true
	}
	for _, p := range a.points {
		if pointOnShape(p[0], p[1], b) {
			return true
		}
	}
	for _, p := range b.points {
		if pointOnShape(p[0], p[1], a) {
			return true
		}
	}
	return false
}

// locateAny reports whether some vertex of b falls inside or on a polygon
// of a.
func locateAny(a, b *shape) bool {
	if len(a.polys) == 0 {
		return false
	}
	found := false
	b.vertices(func(x, y float64) bool {
		found = locate(a, x, y) != location.Exterior
		return !found
	})
	return found
}

func pointOnShape(x, y float64, s *shape) bool {
	for _, p := range s.points {
		if p[0] == x && p[1] == y {
			return true
		}
	}
	on := false
	pt := geom.Coord{x, y}
	s.eachSegment(func(ax, ay, bx, by float64) bool {
		on = lineintersector.PointIntersectsLine(robust, pt, geom.Coord{ax, ay}, geom.Coord{bx, by})
		return !on
	})
	return on
}

// locate classifies (x, y) against the polygonal part of s, honouring holes.
func locate(s *shape, x, y float64) location.Type {
	if !s.env.Intersects(NewEnvelope(x, y, x, y)) {
		return location.Exterior
	}
	pt := geom.Coord{x, y}
	for _, poly := range s.polys {
		switch xy.LocatePointInRing(geom.XY, pt, poly[0]) {
		case location.Exterior:
			continue
		case location.Boundary:
			return location.Boundary
		}
		inHole := false
		for _, hole := range poly[1:] {
			switch xy.LocatePointInRing(geom.XY, pt, hole) {
			case location.Boundary:
				return location.Boundary
			case location.Interior:
				inHole = true
			}
			if inHole {
				break
			}
		}
		if !inHole {
			return location.Interior
		}
	}
	return location.Exterior
}

// contains reports whether no point of b lies outside a and the interiors
// meet. Polygon-on-polygon boundary coincidence counts as containment.
func contains(a, b *shape) bool {
	if len(a.polys) == 0 || !a.env.Covers(b.env) {
		return false
	}

	interior := false
	inside := b.vertices(func(x, y float64) bool {
		switch locate(a, x, y) {
		case location.Exterior:
			return false
		case location.Interior:
			interior = true
		}
		return true
	})
	if !inside {
		return false
	}

	// A segment whose ends are both on a's boundary may still leave a
	// concave polygon; test midpoints and proper crossings.
	ok := b.eachSegment(func(ax, ay, bx, by float64) bool {
		switch locate(a, (ax+bx)/2, (ay+by)/2) {
		case location.Exterior:
			return false
		case location.Interior:
			interior = true
		}
		return a.eachBoundarySegment(func(cx, cy, dx, dy float64) bool {
			res := segmentsIntersect(ax, ay, bx, by, cx, cy, dx, dy)
			if res.Type() != lineintersection.PointIntersection {
				return true
			}
			ip := res.Intersection()[0]
			return isEndpoint(ip, ax, ay, bx, by) || isEndpoint(ip, cx, cy, dx, dy)
		})
	})
	if !ok {
		return false
	}
	if b.polygonal() && holeInside(a, b) {
		return false
	}
	return interior || b.polygonal()
}

func isEndpoint(p geom.Coord, ax, ay, bx, by float64) bool {
	const eps = 1e-9
	near := func(x, y float64) bool {
		dx, dy := p[0]-x, p[1]-y
		return dx*dx+dy*dy <= eps*eps
	}
	return near(ax, ay) || near(bx, by)
}

// holeInside reports whether a hole of a lies in the interior of b.
func holeInside(a, b *shape) bool {
	for _, poly := range a.polys {
		for _, hole := range poly[1:] {
			for i := 0; i+1 < len(hole); i += 2 {
				if locate(b, hole[i], hole[i+1]) == location.Interior {
					return true
				}
			}
		}
	}
	return false
}

// PointTester answers repeated point-in-polygon queries against one
// geometry. Points on the boundary are covered.
type PointTester struct {
	s *shape
}

// NewPointTester prepares g. Only its polygonal parts are tested.
func NewPointTester(g geom.T) *PointTester {
	if g == nil {
		return &PointTester{s: &shape{}}
	}
	return &PointTester{s: newShape(g)}
}

// Envelope returns the extent of the prepared geometry.
func (p *PointTester) Envelope() Envelope {
	return p.s.env
}

// Polygonal reports whether there is any area to test against.
func (p *PointTester) Polygonal() bool {
	return len(p.s.polys) > 0
}

// Covers reports whether (x, y) lies inside or on the boundary.
func (p *PointTester) Covers(x, y float64) bool {
	return locate(p.s, x, y) != location.Exterior
}
