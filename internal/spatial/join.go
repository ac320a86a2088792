package spatial

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/workpool"
)

// DefaultBatchSize is the left-side batch size used when callers pass 0.
const DefaultBatchSize = 10000

// JoinStats describes one chunked primitive call.
type JoinStats struct {
	Batches       int
	FailedBatches int
	Matched       int
}

// ChunkedSpatialJoin returns the sorted, de-duplicated IDs of left features
// for which pred(left, right) holds against at least one right feature.
//
// left is split into batches of at most batchSize features, each joined
// against the whole right set on s. A batch that fails contributes nothing
// and is logged; the call only fails when ctx is done.
func ChunkedSpatialJoin(ctx context.Context, s workpool.Submitter, left, right []Feature, pred Predicate, batchSize int) ([]int64, JoinStats, error) {
	var stats JoinStats
	if len(left) == 0 || len(right) == 0 {
		return nil, stats, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ix := NewIndex(right)
	batches := workpool.Chunk(left, batchSize)
	stats.Batches = len(batches)

	results, errs := workpool.Map(ctx, s, batches, func(ctx context.Context, batch []Feature) ([]int64, error) {
		var ids []int64
		for n, f := range batch {
			if n%256 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if f.Geom == nil {
				continue
			}
			if ix.any(newShape(f.Geom), pred) {
				ids = append(ids, f.ID)
			}
		}
		return ids, nil
	})

	if err := ctx.Err(); err != nil {
		return nil, stats, eris.Wrap(err, "spatial: join cancelled")
	}

	var out []int64
	for i, err := range errs {
		if err != nil {
			stats.FailedBatches++
			logBatchFailure("spatial.join", i, len(batches[i]), err)
			continue
		}
		out = append(out, results[i]...)
	}
	out = uniqueSorted(out)
	stats.Matched = len(out)
	return out, stats, nil
}

func logBatchFailure(component string, batch, size int, err error) {
	zap.L().With(zap.String("component", component)).Warn("batch failed, contribution dropped",
		zap.Int("batch", batch),
		zap.Int("size", size),
		zap.Error(err),
	)
}

func uniqueSorted(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	n := 1
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[n-1] {
			ids[n] = ids[i]
			n++
		}
	}
	return ids[:n]
}
