package loadtest

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"go.uber.org/atomic"
)

// DefaultConcurrency is the number of runs in flight when none is configured.
const DefaultConcurrency = 4

// Summary aggregates the results of a batch of runs.
type Summary struct {
	Runs      int
	Succeeded int64
	Failed    int64
	Keys      int64
	Elapsed   time.Duration

	// ErrorsByKind counts failed runs by interfaces.ErrorKind.
	ErrorsByKind map[string]int64
}

// Runner executes independent submission runs on a bounded worker pool.
type Runner struct {
	submitter   *Submitter
	concurrency int
}

// NewRunner creates a Runner executing at most concurrency runs at a time.
func NewRunner(submitter *Submitter, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{
		submitter:   submitter,
		concurrency: concurrency,
	}
}

// Run executes runs submission runs and waits for all of them. Runs not yet
// started when ctx is cancelled are skipped and counted as failed.
func (r *Runner) Run(ctx context.Context, runs int) Summary {
	started := time.Now()

	var (
		succeeded atomic.Int64
		failed    atomic.Int64
		keys      atomic.Int64

		mu     sync.Mutex
		byKind = make(map[string]int64)
	)

	record := func(kind string) {
		failed.Inc()
		mu.Lock()
		byKind[kind]++
		mu.Unlock()
	}

	pool := pond.NewPool(r.concurrency)
	for i := 0; i < runs; i++ {
		pool.Submit(func() {
			if ctx.Err() != nil {
				record("cancelled")
				return
			}

			result := r.submitter.Run(ctx)
			if result.Err != nil {
				record(interfaces.ErrorKind(result.Err))
				return
			}
			succeeded.Inc()
			keys.Add(int64(result.Keys))
		})
	}
	pool.StopAndWait()

	summary := Summary{
		Runs:         runs,
		Succeeded:    succeeded.Load(),
		Failed:       failed.Load(),
		Keys:         keys.Load(),
		Elapsed:      time.Since(started),
		ErrorsByKind: byKind,
	}

	r.submitter.cfg.Log.Info("load run finished",
		"runs", summary.Runs,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed)
	return summary
}
