package spatial

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/chesapeake-lu/landuse/internal/workpool"
)

// GroupByAdjacency labels every feature with the smallest ID of the
// connected component it belongs to, where two features are connected when
// pred holds between them. Edge discovery fans out over s in batches; the
// union-find itself is iterative so arbitrarily long chains are safe.
func GroupByAdjacency(ctx context.Context, s workpool.Submitter, fs []Feature, pred Predicate, batchSize int) (map[int64]int64, error) {
	groups := make(map[int64]int64, len(fs))
	if len(fs) == 0 {
		return groups, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ix := NewIndex(fs)
	uf := newUnionFind(fs)

	type edge struct{ a, b int64 }
	batches := workpool.Chunk(fs, batchSize)
	results, errs := workpool.Map(ctx, s, batches, func(ctx context.Context, batch []Feature) ([]edge, error) {
		var edges []edge
		for n, f := range batch {
			if n%256 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if f.Geom == nil {
				continue
			}
			sh := newShape(f.Geom)
			if sh.empty() {
				continue
			}
			ix.search(sh.env, func(i int) bool {
				other := ix.items[i].ID
				// Each unordered pair is tested once.
				if other > f.ID && pred.eval(sh, ix.shapes[i]) {
					edges = append(edges, edge{f.ID, other})
				}
				return true
			})
		}
		return edges, nil
	})
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "spatial: group cancelled")
	}
	for i, err := range errs {
		if err != nil {
			logBatchFailure("spatial.group", i, len(batches[i]), err)
			continue
		}
		for _, e := range results[i] {
			uf.union(e.a, e.b)
		}
	}

	for _, f := range fs {
		groups[f.ID] = uf.find(f.ID)
	}
	return groups, nil
}

type unionFind struct {
	parent map[int64]int64
}

func newUnionFind(fs []Feature) *unionFind {
	uf := &unionFind{parent: make(map[int64]int64, len(fs))}
	for _, f := range fs {
		uf.parent[f.ID] = f.ID
	}
	return uf
}

func (u *unionFind) find(x int64) int64 {
	for {
		p := u.parent[x]
		if p == x {
			return x
		}
		// Path halving.
		gp := u.parent[p]
		u.parent[x] = gp
		x = gp
	}
}

// union links the two roots, keeping the smaller ID as the root so the
// final label is the component minimum.
func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	switch {
	case ra == rb:
		return
	case ra < rb:
		u.parent[rb] = ra
	default:
		u.parent[ra] = rb
	}
}
