package loadtest

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruteri/exposure-keyserver-client/api/clients"
	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"github.com/ruteri/exposure-keyserver-client/metrics"
)

// DefaultSweepOffsets are the windows fetched by a RetrievalSweep: the
// current hour and both hours the server tolerates around it.
var DefaultSweepOffsets = []time.Duration{0, -time.Hour, time.Hour}

// SweepResult is the outcome of one retrieval in a sweep.
type SweepResult struct {
	Offset time.Duration
	Batch  *clients.RetrievedBatch
	Keys   int
	Err    error
}

// RetrievalSweep fetches the batches of one region signed for several
// offsets around now.
type RetrievalSweep struct {
	Client  *clients.RetrievalClient
	Region  string
	Offsets []time.Duration
	Metrics *metrics.RunMetrics
	Log     *slog.Logger

	// Now is replaceable for tests.
	Now func() time.Time
}

// Run performs the retrievals in order. A failed retrieval does not stop
// the sweep.
func (s *RetrievalSweep) Run(ctx context.Context) []SweepResult {
	offsets := s.Offsets
	if len(offsets) == 0 {
		offsets = DefaultSweepOffsets
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	results := make([]SweepResult, 0, len(offsets))
	for _, offset := range offsets {
		started := time.Now()
		ts := now().Add(offset)
		result := SweepResult{Offset: offset}

		batch, err := s.Client.Retrieve(ctx, s.Region, interfaces.UnixSeconds(ts))
		if err == nil {
			parsed, perr := batch.Export()
			if perr != nil {
				err = perr
			} else {
				result.Batch = batch
				result.Keys = len(parsed.Keys)
			}
		}
		result.Err = err

		s.Metrics.ObserveRun(RetrievalRun, interfaces.ErrorKind(err), time.Since(started))
		if err != nil {
			log.Warn("retrieval failed", "offset", offset, "kind", interfaces.ErrorKind(err), "err", err)
		} else {
			log.Info("retrieved batch", "offset", offset, "period", batch.Signature.Period, "keys", result.Keys)
		}
		results = append(results, result)
	}
	return results
}
