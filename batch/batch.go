// Package batch drives a per-item transform over an ordered work list
// in fixed-size batches. Items within a batch may run with bounded
// parallelism, but results and progress events always follow input
// order, and each item is visited exactly once. Cancellation is
// honored between batches: the in-flight batch completes and the run
// returns its partial results with a cancelled marker.
package batch

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize bounds per-batch memory for typical asset-sized
// work items.
const DefaultBatchSize = 256

// Options tunes a Process run. The zero value is usable.
type Options struct {
	// BatchSize is the number of items per batch. Zero or negative
	// selects DefaultBatchSize.
	BatchSize int

	// Parallelism bounds concurrent transforms within a batch. Zero or
	// negative selects GOMAXPROCS.
	Parallelism int

	// FailFast aborts the run on the first item error instead of
	// recording it and continuing.
	FailFast bool

	// OnProgress, when set, receives one event per completed item, in
	// input order.
	OnProgress func(Progress)
}

// Progress describes the run after one more item has completed.
type Progress struct {
	Processed      int
	Total          int
	Percentage     float64
	MemoryEstimate uint64
}

// Result pairs an input item's position with its transform outcome.
// In fail-soft runs Err carries the item's own failure.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Summary reports aggregate facts about a finished run. Duration and
// throughput are derived from the timestamps rather than accumulated
// separately.
type Summary struct {
	Total     int
	Processed int
	Failed    int
	Cancelled bool
	Started   time.Time
	Finished  time.Time
}

func (s Summary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Throughput is completed items per second over the whole run.
func (s Summary) Throughput() float64 {
	d := s.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(s.Processed) / d
}

// Process applies transform to every item in order, batch by batch.
//
// Fail-soft (the default) records each item's error in its Result and
// always returns len(items) results. Fail-fast returns the results
// completed before the first error, in input order, together with that
// error. A context cancelled between batches ends the run early with
// the partial results and Summary.Cancelled set; work already done is
// kept.
func Process[T, R any](ctx context.Context, items []T, transform func(context.Context, T) (R, error), opts Options) ([]Result[R], Summary, error) {
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	limit := opts.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	total := len(items)
	sum := Summary{Total: total, Started: time.Now()}
	results := make([]Result[R], 0, total)
	mem := newMemSampler()

	for start := 0; start < total; start += size {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}
		end := start + size
		if end > total {
			end = total
		}

		slots := make([]Result[R], end-start)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				v, err := transform(gctx, items[i])
				slots[i-start] = Result[R]{Index: i, Value: v, Err: err}
				if opts.FailFast && err != nil {
					return err
				}
				return nil
			})
		}
		batchErr := g.Wait()
		estimate := mem.sample()

		emit := func(r Result[R]) {
			results = append(results, r)
			sum.Processed++
			if r.Err != nil {
				sum.Failed++
			}
			if opts.OnProgress != nil {
				opts.OnProgress(Progress{
					Processed:      sum.Processed,
					Total:          total,
					Percentage:     float64(sum.Processed) * 100 / float64(total),
					MemoryEstimate: estimate,
				})
			}
		}

		if opts.FailFast && batchErr != nil {
			// Keep the items that completed cleanly ahead of the first
			// failure; batchErr is the first error the group saw.
			for j := range slots {
				if slots[j].Err != nil {
					break
				}
				emit(slots[j])
			}
			sum.Finished = time.Now()
			return results, sum, batchErr
		}

		for j := range slots {
			emit(slots[j])
		}
	}

	sum.Finished = time.Now()
	return results, sum, nil
}

// memSampler reads the process resident set once per batch. A failed
// read reports zero rather than failing the run.
type memSampler struct {
	proc *process.Process
}

func newMemSampler() *memSampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return &memSampler{}
	}
	return &memSampler{proc: proc}
}

func (m *memSampler) sample() uint64 {
	if m.proc == nil {
		return 0
	}
	info, err := m.proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}
