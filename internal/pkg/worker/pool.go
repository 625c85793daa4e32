// Package worker provides goroutine pool management.
//
// Naked goroutines are avoided in production code: long-running slot workers
// and short tasks alike go through a Pool with context propagation.
//
// Import Path: readmodel.dev/projector/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"readmodel.dev/projector/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	// General runs process-level tasks such as the HTTP server.
	General *Pool
	// Slots runs one worker per projection slot, long-lived in continuous
	// mode and per Tick in manual-poll mode.
	Slots *Pool
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	GeneralPoolSize int
	SlotPoolSize    int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize: 32,
		SlotPoolSize:    16,
	}
}

// NewPools creates the worker pool collection.
func NewPools(cfg PoolConfig) (*Pools, error) {
	general, err := NewPool("general", cfg.GeneralPoolSize, 10*time.Second)
	if err != nil {
		return nil, err
	}
	// Slot workers live as long as the engine, so idle expiry only matters
	// after Stop.
	slots, err := NewPool("slots", cfg.SlotPoolSize, time.Minute)
	if err != nil {
		general.pool.Release()
		return nil, err
	}
	return &Pools{General: general, Slots: slots}, nil
}

// NewPool creates a single named pool.
func NewPool(name string, size int, expiry time.Duration) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool %s: size must be positive, got %d", name, size)
	}
	p, err := ants.NewPool(size,
		ants.WithPanicHandler(func(r interface{}) {
			logger.Error("Worker panic recovered",
				zap.String("pool", name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(expiry),
	)
	if err != nil {
		return nil, fmt.Errorf("create pool %s: %w", name, err)
	}
	return &Pool{pool: p, name: name}, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Cap returns the pool capacity.
func (p *Pool) Cap() int { return p.pool.Cap() }

// Go submits task and returns a channel closed once the task has returned or
// was skipped because ctx was cancelled while it was queued. The channel is
// closed even when task panics.
func (p *Pool) Go(ctx context.Context, task Task) (<-chan struct{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	done := make(chan struct{})
	err := p.pool.Submit(func() {
		defer close(done)
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return nil, ErrPoolClosed
		}
		return nil, err
	}
	return done, nil
}

// Release stops the pool, waiting at most timeout for running tasks.
func (p *Pool) Release(timeout time.Duration) error {
	return p.pool.ReleaseTimeout(timeout)
}

// Shutdown releases all pools with a bounded wait.
func (p *Pools) Shutdown() {
	const shutdownTimeout = 30 * time.Second
	if err := p.General.Release(shutdownTimeout); err != nil {
		logger.Warn("General pool shutdown timeout", zap.Error(err))
	}
	if err := p.Slots.Release(shutdownTimeout); err != nil {
		logger.Warn("Slot pool shutdown timeout", zap.Error(err))
	}
}

// PoolStats is a point-in-time view of one pool.
type PoolStats struct {
	Running int `json:"running"`
	Free    int `json:"free"`
	Cap     int `json:"cap"`
}

// Metrics returns pool metrics for observability.
func (p *Pools) Metrics() map[string]PoolStats {
	return map[string]PoolStats{
		"general": poolStats(p.General),
		"slots":   poolStats(p.Slots),
	}
}

func poolStats(p *Pool) PoolStats {
	return PoolStats{
		Running: p.pool.Running(),
		Free:    p.pool.Free(),
		Cap:     p.pool.Cap(),
	}
}
