package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"proptoken-engine/internal/lifecycle"
	"proptoken-engine/internal/observability"
	"proptoken-engine/internal/storage"
)

// Sweeper drives time-based sale window transitions. Each sweep reads
// the due assets and applies ISSUED -> SALE_ACTIVE and SALE_ACTIVE ->
// SALE_ENDED per asset. Transitions are committed per asset, so one bad
// asset never blocks the rest of the batch, and a sweep that runs twice
// over the same instant is a no-op the second time.
type Sweeper struct {
	assets  storage.AssetStore
	machine *lifecycle.Machine
	logger  *log.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(assets storage.AssetStore, machine *lifecycle.Machine, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		assets:  assets,
		machine: machine,
		logger:  logger,
	}
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Activated int
	Ended     int
	Skipped   int
	Failed    int
}

// RunSweep processes all assets due at now. Concurrent sweeps racing on
// the same asset resolve via the version guard: the loser counts a skip.
func (s *Sweeper) RunSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	started := time.Now()
	nowMs := now.UnixMilli()
	var res SweepResult

	startDue, err := s.assets.ListSaleStartDue(ctx, nowMs)
	if err != nil {
		observability.RecordSweep("error", 0, time.Since(started).Seconds())
		return res, err
	}
	for _, a := range startDue {
		if err := ctx.Err(); err != nil {
			observability.RecordSweep("cancelled", res.Activated+res.Ended, time.Since(started).Seconds())
			return res, err
		}
		switch _, err := s.machine.ActivateSale(ctx, a); {
		case err == nil:
			res.Activated++
		case errors.Is(err, storage.ErrVersionConflict):
			res.Skipped++
		default:
			res.Failed++
			s.logger.Printf("[scheduler] activate sale for asset %s: %v", a.AssetID, err)
		}
	}

	endDue, err := s.assets.ListSaleEndDue(ctx, nowMs)
	if err != nil {
		observability.RecordSweep("error", res.Activated, time.Since(started).Seconds())
		return res, err
	}
	for _, a := range endDue {
		if err := ctx.Err(); err != nil {
			observability.RecordSweep("cancelled", res.Activated+res.Ended, time.Since(started).Seconds())
			return res, err
		}
		// An asset that both started and ended inside one sweep period
		// shows up in startDue with an elapsed sale_end; it lands here on
		// the next sweep with its SALE_ACTIVE record re-read.
		switch _, err := s.machine.EndSale(ctx, a); {
		case err == nil:
			res.Ended++
		case errors.Is(err, storage.ErrVersionConflict):
			res.Skipped++
		default:
			res.Failed++
			s.logger.Printf("[scheduler] end sale for asset %s: %v", a.AssetID, err)
		}
	}

	status := "ok"
	if res.Failed > 0 {
		status = "partial"
	}
	observability.RecordSweep(status, res.Activated+res.Ended, time.Since(started).Seconds())

	if res.Activated+res.Ended+res.Skipped+res.Failed > 0 {
		s.logger.Printf("[scheduler] sweep done: activated=%d ended=%d skipped=%d failed=%d",
			res.Activated, res.Ended, res.Skipped, res.Failed)
	}
	return res, nil
}

// Run sweeps on the given interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Printf("[scheduler] sweep loop started, interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("[scheduler] sweep loop stopped")
			return
		case t := <-ticker.C:
			if _, err := s.RunSweep(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Printf("[scheduler] sweep failed: %v", err)
			}
		}
	}
}
