// Package jobs defines River Queue job types for background maintenance.
//
// Import Path: readmodel.dev/projector/internal/jobs
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"readmodel.dev/projector/internal/checkpoint"
	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/pkg/logger"
)

const (
	// DefaultLagReportInterval is how often slot lag is reported.
	DefaultLagReportInterval = time.Minute

	// DefaultLagWarnThreshold is the number of commits behind the head above
	// which a slot is reported at warn level.
	DefaultLagWarnThreshold = 1000
)

// HeadReader reports the newest position of the commit log.
type HeadReader interface {
	Head(ctx context.Context) (domain.Position, error)
}

// CheckpointLister lists every persisted checkpoint.
type CheckpointLister interface {
	List(ctx context.Context) (map[string]domain.Position, error)
}

// CheckpointLagArgs is a periodic job that reports how far each slot trails
// the commit log head.
type CheckpointLagArgs struct{}

// Kind returns the job kind identifier for the lag report.
func (CheckpointLagArgs) Kind() string { return "checkpoint_lag" }

// InsertOpts ensures at most one lag report is enqueued per interval.
func (CheckpointLagArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: DefaultLagReportInterval,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// SlotLag is one row of a lag report.
type SlotLag struct {
	Slot       string
	Checkpoint domain.Position
	Lag        int64
}

// CheckpointLagWorker compares persisted checkpoints with the log head.
type CheckpointLagWorker struct {
	river.WorkerDefaults[CheckpointLagArgs]
	head          HeadReader
	checkpoints   CheckpointLister
	warnThreshold int64
}

// NewCheckpointLagWorker creates a lag worker. A non-positive threshold
// falls back to DefaultLagWarnThreshold.
func NewCheckpointLagWorker(head HeadReader, checkpoints CheckpointLister, warnThreshold int64) *CheckpointLagWorker {
	if warnThreshold <= 0 {
		warnThreshold = DefaultLagWarnThreshold
	}
	return &CheckpointLagWorker{
		head:          head,
		checkpoints:   checkpoints,
		warnThreshold: warnThreshold,
	}
}

// Work logs the lag of every slot.
func (w *CheckpointLagWorker) Work(ctx context.Context, _ *river.Job[CheckpointLagArgs]) error {
	report, err := w.Report(ctx)
	if err != nil {
		return err
	}
	for _, r := range report {
		fields := []zap.Field{
			zap.String("slot", r.Slot),
			zap.Int64("checkpoint", int64(r.Checkpoint)),
			zap.Int64("lag", r.Lag),
		}
		if r.Lag > w.warnThreshold {
			logger.Warn("projection slot is falling behind", fields...)
			continue
		}
		logger.Info("projection slot lag", fields...)
	}
	return nil
}

// Report computes the lag of every persisted checkpoint, sorted by slot.
func (w *CheckpointLagWorker) Report(ctx context.Context) ([]SlotLag, error) {
	if w == nil || w.head == nil || w.checkpoints == nil {
		return nil, fmt.Errorf("checkpoint lag worker is not initialized")
	}

	head, err := w.head.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("read commit log head: %w", err)
	}
	positions, err := w.checkpoints.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	report := make([]SlotLag, 0, len(positions))
	for _, slot := range checkpoint.Slots(positions) {
		pos := positions[slot]
		lag := int64(head - pos)
		if lag < 0 {
			lag = 0
		}
		report = append(report, SlotLag{Slot: slot, Checkpoint: pos, Lag: lag})
	}
	return report, nil
}
