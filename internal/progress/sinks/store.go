package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-gen-crawler/internal/progress"
	"github.com/JakeFAU/lead-gen-crawler/internal/store"
)

// StoreSink feeds progress deltas into a store.Recorder. It collapses
// site-level counters per batch to reduce lock churn on the aggregate view.
type StoreSink struct {
	recorder store.Recorder
	logger   *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided recorder.
func NewStoreSink(recorder store.Recorder, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{recorder: recorder, logger: logger}
}

// Consume collapses site deltas and forwards them to the recorder. It respects
// ctx deadlines and returns any recorder errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.recorder == nil {
		return nil
	}
	deltas := make(map[string]*store.SiteDelta)

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, evt); err != nil {
				return err
			}
		case progress.StageFetchDone, progress.StageFetchDenied, progress.StageCaptchaFlag:
			recordSiteDelta(deltas, evt)
		}
	}

	for site, delta := range deltas {
		if err := s.recorder.ApplySiteDelta(ctx, site, *delta); err != nil {
			return fmt.Errorf("apply site delta: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.recorder.StartRun(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		if err := s.recorder.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, ""); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		if err := s.recorder.CompleteRun(ctx, runID, evt.TS, store.RunError, evt.Note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func recordSiteDelta(deltas map[string]*store.SiteDelta, evt progress.Event) {
	if evt.Site == "" {
		return
	}
	delta := deltas[evt.Site]
	if delta == nil {
		delta = &store.SiteDelta{}
		deltas[evt.Site] = delta
	}
	switch evt.Stage {
	case progress.StageFetchDone:
		delta.Fetches++
		delta.Bytes += evt.Bytes
		delta.Leads += evt.Leads
		switch evt.StatusClass {
		case progress.Status2xx:
			delta.Fetch2xx++
		case progress.Status3xx:
			delta.Fetch3xx++
		case progress.Status4xx:
			delta.Fetch4xx++
		case progress.Status5xx:
			delta.Fetch5xx++
		}
	case progress.StageFetchDenied:
		delta.Denied++
	case progress.StageCaptchaFlag:
		delta.CaptchaFlags++
	}
	if evt.TS.After(delta.At) {
		delta.At = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
