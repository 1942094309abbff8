package lifecycle

import (
	"context"
	"time"
)

// Run polls the vault until ctx is cancelled. changes may be nil; when it
// carries the vault watcher's signal, a change triggers a scan ahead of
// the next tick. Cancellation is honored only at the wait between
// cycles, so an in-flight cycle always completes before Run returns.
func (s *Scanner) Run(ctx context.Context, changes <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// Cycles run on a context that survives cancellation; a shutdown
	// signal mid-cycle must not abort record processing or a backoff
	// sleep inside the resilience layer.
	work := context.WithoutCancel(ctx)

	for {
		if _, err := s.RunCycle(work); err != nil {
			s.log.WithError(err).Error("scan cycle failed")
		}
		if _, err := s.ProcessQueue(work); err != nil {
			s.log.WithError(err).Error("queue pass failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-changes:
		}
	}
}
