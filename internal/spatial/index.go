package spatial

import (
	"github.com/tidwall/rtree"
	"github.com/twpayne/go-geom"
)

// Index is a read-only R-tree over a feature set. It is safe for
// concurrent searches once built.
type Index struct {
	tree   rtree.RTreeG[int]
	items  []Feature
	shapes []*shape
}

// NewIndex builds an index over fs. Features without geometry are skipped.
func NewIndex(fs []Feature) *Index {
	ix := &Index{
		items:  make([]Feature, 0, len(fs)),
		shapes: make([]*shape, 0, len(fs)),
	}
	for _, f := range fs {
		if f.Geom == nil {
			continue
		}
		s := newShape(f.Geom)
		if s.empty() {
			continue
		}
		i := len(ix.items)
		ix.items = append(ix.items, f)
		ix.shapes = append(ix.shapes, s)
		ix.tree.Insert(s.env.Min(), s.env.Max(), i)
	}
	return ix
}

// Len returns the number of indexed features.
func (ix *Index) Len() int {
	return len(ix.items)
}

// Envelope returns the extent of every indexed feature.
func (ix *Index) Envelope() Envelope {
	if ix.Len() == 0 {
		return Envelope{}
	}
	lo, hi := ix.tree.Bounds()
	return NewEnvelope(lo[0], lo[1], hi[0], hi[1])
}

// Search calls fn for every feature whose envelope intersects e until fn
// returns false.
func (ix *Index) Search(e Envelope, fn func(f Feature) bool) {
	ix.search(e, func(i int) bool { return fn(ix.items[i]) })
}

func (ix *Index) search(e Envelope, fn func(i int) bool) {
	if e.IsEmpty() || ix.Len() == 0 {
		return
	}
	ix.tree.Search(e.Min(), e.Max(), func(_, _ [2]float64, i int) bool {
		return fn(i)
	})
}

// Matching returns the IDs of indexed features f for which
// pred(g, f.Geom) holds, in index order.
func (ix *Index) Matching(g geom.T, pred Predicate) []int64 {
	if g == nil {
		return nil
	}
	s := newShape(g)
	if s.empty() {
		return nil
	}
	var ids []int64
	ix.search(s.env, func(i int) bool {
		if pred.eval(s, ix.shapes[i]) {
			ids = append(ids, ix.items[i].ID)
		}
		return true
	})
	return ids
}

// Any reports whether pred(g, f.Geom) holds for some indexed feature.
func (ix *Index) Any(g geom.T, pred Predicate) bool {
	if g == nil {
		return false
	}
	return ix.any(newShape(g), pred)
}

func (ix *Index) any(s *shape, pred Predicate) bool {
	if s.empty() {
		return false
	}
	found := false
	ix.search(s.env, func(i int) bool {
		found = pred.eval(s, ix.shapes[i])
		return !found
	})
	return found
}
