package spatial

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/goleak"

	"github.com/chesapeake-lu/landuse/internal/workpool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*poolCommon).purgeStaleWorkers"),
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*poolCommon).ticktock"),
	)
}

func rect(x, y, w, h float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{x, y, x + w, y, x + w, y + h, x, y + h, x, y}, []int{10})
}

func multi(t *testing.T, polys ...*geom.Polygon) *geom.MultiPolygon {
	t.Helper()
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range polys {
		require.NoError(t, mp.Push(p))
	}
	return mp
}

func newPool(t *testing.T) *workpool.Pool {
	t.Helper()
	p, err := workpool.New(4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(5 * time.Second) })
	return p
}

func TestPredicates(t *testing.T) {
	donut := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
		3, 3, 7, 3, 7, 7, 3, 7, 3, 3,
	}, []int{10, 20})

	tests := []struct {
		name  string
		pred  Predicate
		left  geom.T
		right geom.T
		want  bool
	}{
		{"overlapping squares", Intersects, rect(0, 0, 10, 10), rect(5, 5, 10, 10), true},
		{"shared edge", Intersects, rect(0, 0, 10, 10), rect(10, 0, 10, 10), true},
		{"corner touch", Intersects, rect(0, 0, 10, 10), rect(10, 10, 5, 5), true},
		{"disjoint", Intersects, rect(0, 0, 10, 10), rect(20, 20, 1, 1), false},
		{"nested without edge contact", Intersects, rect(0, 0, 10, 10), rect(2, 2, 1, 1), true},
		{"inside hole", Intersects, donut, rect(4, 4, 1, 1), false},
		{"line crossing", Intersects, rect(0, 0, 10, 10), geom.NewLineStringFlat(geom.XY, []float64{-5, 5, 15, 5}), true},
		{"point on edge", Intersects, rect(0, 0, 10, 10), geom.NewPointFlat(geom.XY, []float64{10, 5}), true},
		{"point outside", Intersects, rect(0, 0, 10, 10), geom.NewPointFlat(geom.XY, []float64{11, 5}), false},
		{"multipolygon second part", Intersects, multi(t, rect(0, 0, 1, 1), rect(50, 50, 1, 1)), rect(50.5, 50.5, 5, 5), true},
		{"contains inner", Contains, rect(0, 0, 10, 10), rect(2, 2, 3, 3), true},
		{"contains sharing edge", Contains, rect(0, 0, 10, 10), rect(0, 0, 5, 5), true},
		{"contains itself", Contains, rect(0, 0, 10, 10), rect(0, 0, 10, 10), true},
		{"contains overlapping", Contains, rect(0, 0, 10, 10), rect(5, 5, 10, 10), false},
		{"contains across hole", Contains, donut, rect(2, 2, 6, 6), false},
		{"within", Within, rect(2, 2, 3, 3), rect(0, 0, 10, 10), true},
		{"not within", Within, rect(0, 0, 10, 10), rect(2, 2, 3, 3), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Eval(tt.left, tt.right))
		})
	}
}

func TestParsePredicate(t *testing.T) {
	for _, p := range []Predicate{Intersects, Contains, Within} {
		got, err := ParsePredicate(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePredicate("touches")
	assert.Error(t, err)
}

func TestEnvelope(t *testing.T) {
	var e Envelope
	assert.True(t, e.IsEmpty())
	e = e.Union(NewEnvelope(0, 0, 1, 1)).Union(NewEnvelope(5, -1, 6, 2))
	assert.Equal(t, NewEnvelope(0, -1, 6, 2), e)
	assert.True(t, e.Covers(NewEnvelope(1, 0, 2, 1)))
	assert.False(t, e.Intersects(NewEnvelope(7, 7, 8, 8)))
	assert.True(t, e.Expand(2).Intersects(NewEnvelope(7, 3, 8, 8)))
	assert.Equal(t, NewEnvelope(0, 0, 10, 10), EnvelopeOf(rect(0, 0, 10, 10)))
}

func gridFeatures(n int) []Feature {
	fs := make([]Feature, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			fs = append(fs, Feature{ID: int64(i*n + j + 1), Geom: rect(float64(i)*10, float64(j)*10, 10, 10)})
		}
	}
	return fs
}

func TestChunkedSpatialJoin_ChunkInvariance(t *testing.T) {
	pool := newPool(t)
	left := gridFeatures(12)
	right := []Feature{
		{ID: 1, Geom: rect(15, 15, 2, 2)},
		{ID: 2, Geom: geom.NewLineStringFlat(geom.XY, []float64{0, 95, 119, 95})},
		{ID: 3, Geom: nil},
	}

	want, _, err := ChunkedSpatialJoin(context.Background(), workpool.Inline{}, left, right, Intersects, len(left))
	require.NoError(t, err)
	require.NotEmpty(t, want)
	assert.IsIncreasing(t, want)

	for _, size := range []int{1, 10, len(left)} {
		got, stats, err := ChunkedSpatialJoin(context.Background(), pool, left, right, Intersects, size)
		require.NoError(t, err)
		assert.Equal(t, want, got, "batch size %d", size)
		assert.Zero(t, stats.FailedBatches)
		assert.Equal(t, (len(left)+size-1)/size, stats.Batches)
	}
}

func TestChunkedSpatialJoin_Within(t *testing.T) {
	left := []Feature{
		{ID: 10, Geom: rect(1, 1, 2, 2)},
		{ID: 11, Geom: rect(8, 8, 4, 4)},
		{ID: 12, Geom: rect(50, 50, 1, 1)},
	}
	right := []Feature{{ID: 1, Geom: rect(0, 0, 10, 10)}}

	got, _, err := ChunkedSpatialJoin(context.Background(), workpool.Inline{}, left, right, Within, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, got)

	got, _, err = ChunkedSpatialJoin(context.Background(), workpool.Inline{}, left, right, Intersects, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, got)
}

func TestChunkedSpatialJoin_Empty(t *testing.T) {
	got, _, err := ChunkedSpatialJoin(context.Background(), workpool.Inline{}, nil, gridFeatures(1), Intersects, 10)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChunkedSpatialJoin_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := ChunkedSpatialJoin(ctx, workpool.Inline{}, gridFeatures(3), gridFeatures(1), Intersects, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSharedBorder(t *testing.T) {
	// 150 x 50 patch: perimeter 400, long edge of 150 along y = 50.
	patch := rect(0, 0, 150, 50)
	above := rect(0, 50, 150, 20)

	shared := SharedLength(patch, []geom.T{above})
	assert.InDelta(t, 150, shared, 1e-9)
	assert.InDelta(t, 400, Perimeter(patch), 1e-9)

	frac := SharedBorderFraction(patch, []geom.T{above}, Threshold)
	assert.InDelta(t, 0.375, frac, 1e-9)

	assert.True(t, BorderTest{Kind: Percent, Value: 0.25}.Pass(shared, 400))
	assert.False(t, BorderTest{Kind: Percent, Value: 0.5}.Pass(shared, 400))
}

func TestSharedBorder_UnionCountsOverlapOnce(t *testing.T) {
	patch := rect(0, 0, 150, 50)
	a := rect(0, 50, 100, 10)
	b := rect(50, 50, 100, 10)
	assert.InDelta(t, 150, SharedLength(patch, []geom.T{a, b}), 1e-9)
}

func TestSharedBorder_MajorityStopsEarly(t *testing.T) {
	patch := rect(0, 0, 10, 10)
	around := []geom.T{rect(-5, -5, 5, 20), rect(0, -5, 10, 5), rect(10, -5, 5, 20), rect(0, 10, 10, 5)}

	full := SharedBorderFraction(patch, around, Threshold)
	assert.InDelta(t, 1, full, 1e-9)

	maj := SharedBorderFraction(patch, around, Majority)
	assert.Greater(t, maj, 0.5)
	assert.LessOrEqual(t, maj, full)
}

func TestSharedBorder_CornerContactIsZero(t *testing.T) {
	assert.Zero(t, SharedLength(rect(0, 0, 10, 10), []geom.T{rect(10, 10, 5, 5)}))
	assert.Zero(t, SharedLength(rect(0, 0, 10, 10), nil))
}

func TestChunkedBorderJoin(t *testing.T) {
	pool := newPool(t)
	candidates := []Feature{
		{ID: 1, Geom: rect(0, 0, 150, 50)},    // 150 of 400 shared with road
		{ID: 2, Geom: rect(200, 0, 10, 10)},   // corner contact only
		{ID: 3, Geom: rect(0, 100, 10, 10)},   // no contact
		{ID: 4, Geom: rect(160, 60, 40, 400)}, // 40 of 880 shared
	}
	reference := []Feature{
		{ID: 100, Geom: rect(0, 50, 210, 10)},
		{ID: 101, Geom: rect(190, -10, 10, 10)},
	}

	tests := []struct {
		name string
		test BorderTest
		want []int64
	}{
		{"any border", BorderTest{Kind: Minimum}, []int64{1, 4}},
		{"quarter perimeter", BorderTest{Kind: Percent, Value: 0.25}, []int64{1}},
		{"half perimeter", BorderTest{Kind: Percent, Value: 0.5}, nil},
		{"over 100 m", BorderTest{Kind: Minimum, Value: 100}, []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, size := range []int{1, 3, len(candidates)} {
				got, _, err := ChunkedBorderJoin(context.Background(), pool, candidates, reference, tt.test, size)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got, "batch size %d", size)
			}
		})
	}
}

func TestGroupByAdjacency(t *testing.T) {
	fs := []Feature{
		{ID: 5, Geom: rect(0, 0, 10, 10)},
		{ID: 2, Geom: rect(10, 0, 10, 10)},
		{ID: 9, Geom: rect(20, 0, 10, 10)},
		{ID: 7, Geom: rect(100, 100, 10, 10)},
		{ID: 4, Geom: rect(110, 100, 10, 10)},
		{ID: 3, Geom: rect(500, 500, 1, 1)},
	}
	groups, err := GroupByAdjacency(context.Background(), newPool(t), fs, Intersects, 2)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{5: 2, 2: 2, 9: 2, 7: 4, 4: 4, 3: 3}, groups)
}

func TestGroupByAdjacency_LongChain(t *testing.T) {
	const n = 10000
	fs := make([]Feature, n)
	for i := range fs {
		fs[i] = Feature{ID: int64(n - i), Geom: rect(float64(i), 0, 1, 1)}
	}
	groups, err := GroupByAdjacency(context.Background(), workpool.Inline{}, fs, Intersects, 1000)
	require.NoError(t, err)
	require.Len(t, groups, n)
	for id, g := range groups {
		require.Equal(t, int64(1), g, "id %d", id)
	}
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind([]Feature{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}})
	uf.union(4, 3)
	uf.union(3, 2)
	assert.Equal(t, int64(2), uf.find(4))
	assert.Equal(t, int64(1), uf.find(1))
}

func TestCoveredFraction(t *testing.T) {
	assert.Zero(t, coveredFraction(nil))
	assert.InDelta(t, 0.7, coveredFraction([][2]float64{{0.5, 0.9}, {0, 0.2}, {0.1, 0.3}}), 1e-12)
}

func TestOrient(t *testing.T) {
	cw := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 0, 5, 5, 5, 5, 0, 0, 0}, []int{10})
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(cw))
	require.NoError(t, mp.Push(rect(10, 10, 2, 2)))
	require.InDelta(t, -25+4, mp.Area(), 1e-9)

	got := Orient(mp)
	assert.InDelta(t, 29, got.Area(), 1e-9)
	assert.Equal(t, geom.Coord{0, 0}, got.Polygon(0).LinearRing(0).Coord(0), "start point kept")
	assert.InDelta(t, -21, mp.Area(), 1e-9, "input untouched")
	assert.Nil(t, Orient(nil))
}
