// Package workpool provides the long-lived worker pool used by every
// chunked geometry primitive. The cascade driver never runs rules
// concurrently; only the work inside one primitive call fans out here.
package workpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
)

// Submitter runs a task asynchronously. *Pool and Inline implement it.
type Submitter interface {
	Submit(task func()) error
}

// Pool is a fixed-size goroutine pool backed by ants.
type Pool struct {
	p    *ants.Pool
	size int
}

// DefaultSize returns the number of logical cores minus one, at least one.
func DefaultSize() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		zap.L().Debug("workpool: cpu count unavailable, using 1", zap.Error(err))
		return 1
	}
	if n > 1 {
		n--
	}
	return n
}

// New creates a pool. size <= 0 selects DefaultSize.
func New(size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultSize()
	}
	p, err := ants.NewPool(size,
		ants.WithPanicHandler(func(v any) {
			zap.L().Error("workpool: task panic escaped recovery", zap.Any("panic", v))
		}),
	)
	if err != nil {
		return nil, eris.Wrap(err, "workpool: create")
	}
	zap.L().Debug("workpool: started", zap.Int("size", size))
	return &Pool{p: p, size: size}, nil
}

// Submit queues task, blocking while every worker is busy.
func (p *Pool) Submit(task func()) error {
	return p.p.Submit(task)
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return p.size
}

// Running returns the number of busy workers.
func (p *Pool) Running() int {
	return p.p.Running()
}

// Close releases the pool, waiting up to timeout for running tasks.
func (p *Pool) Close(timeout time.Duration) error {
	if err := p.p.ReleaseTimeout(timeout); err != nil {
		return eris.Wrap(err, "workpool: release")
	}
	return nil
}

// Inline runs every task synchronously on the caller's goroutine.
type Inline struct{}

// Submit runs task immediately.
func (Inline) Submit(task func()) error {
	task()
	return nil
}

// Map applies fn to every item on s and returns results aligned with items.
// Each item gets its own error slot; a panicking fn is converted to an
// error for that item only. Items not started before ctx is done report
// ctx.Err().
func Map[T, R any](ctx context.Context, s Submitter, items []T, fn func(context.Context, T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	for i := range items {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				errs[j] = err
			}
			break
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if v := recover(); v != nil {
					errs[i] = eris.Errorf("workpool: task %d panicked: %v\n%s", i, v, debug.Stack())
				}
			}()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = fn(ctx, items[i])
		}
		if err := s.Submit(task); err != nil {
			wg.Done()
			errs[i] = eris.Wrap(err, fmt.Sprintf("workpool: submit task %d", i))
		}
	}
	wg.Wait()
	return results, errs
}

// Chunk splits items into contiguous batches of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size > len(items) {
		size = len(items)
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
