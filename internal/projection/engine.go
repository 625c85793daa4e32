package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"readmodel.dev/projector/internal/commitlog"
	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/pkg/backoff"
	"readmodel.dev/projector/internal/pkg/logger"
	"readmodel.dev/projector/internal/pkg/worker"
)

var (
	// ErrAlreadyRunning is returned by Start when the engine runs.
	ErrAlreadyRunning = errors.New("projection engine already running")
	// ErrNotRunning is returned by Tick before a start.
	ErrNotRunning = errors.New("projection engine not running")
	// ErrManualPollDisabled is returned by Tick in continuous mode.
	ErrManualPollDisabled = errors.New("manual poll not enabled")
	// ErrSlotFaulted marks a slot halted by sustained checkpoint failures.
	ErrSlotFaulted = errors.New("slot faulted")
)

// Source yields enriched changesets in position order.
type Source interface {
	FetchNext(ctx context.Context, after domain.Position) (*domain.Changeset, bool, error)
}

// Tracker reads and advances slot checkpoints.
type Tracker interface {
	GetCheckpoint(ctx context.Context, slot string) (domain.Position, error)
	SetCheckpoint(ctx context.Context, slot string, pos domain.Position) error
	ResetCheckpoint(ctx context.Context, slot string) error
}

// Config tunes the engine.
type Config struct {
	// Slots to run in this process; may contain Wildcard.
	Slots []string
	// PollInterval is the pause after a slot drained the log.
	PollInterval time.Duration
	// Backoff paces retries after transient source failures and failed
	// checkpoint writes.
	Backoff backoff.Policy
	// CheckpointRetries bounds checkpoint write attempts before the slot
	// faults.
	CheckpointRetries int
	// SkipInvalidChangesets lets the checkpoint pass malformed changesets.
	// They are recorded in the slot status.
	SkipInvalidChangesets bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Slots:             []string{Wildcard},
		PollInterval:      500 * time.Millisecond,
		Backoff:           backoff.Default(),
		CheckpointRetries: 5,
	}
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Tracker     Tracker
	Source      Source
	Projections []Projection
	Rebuild     *RebuildContext
	// Pool runs one worker per slot. When nil the engine owns a pool sized
	// to its slots.
	Pool     *worker.Pool
	Notifier CommitHandledNotifier
}

type mode int

const (
	modeStopped mode = iota
	modeContinuous
	modeManual
)

// Engine drives every slot of this process.
type Engine struct {
	cfg      Config
	tracker  Tracker
	source   Source
	rebuild  *RebuildContext
	pool     *worker.Pool
	ownPool  bool
	notifier CommitHandledNotifier
	slots    []*slot
	log      *zap.Logger

	mu     sync.Mutex
	mode   mode
	cancel context.CancelFunc
	done   []<-chan struct{}
	reset  bool

	tickMu    sync.Mutex
	closeOnce sync.Once
}

// NewEngine assigns projections to slots and validates the wiring.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Tracker == nil || deps.Source == nil {
		return nil, errors.New("tracker and source are required")
	}
	assigned, err := Assign(cfg.Slots, deps.Projections)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.CheckpointRetries <= 0 {
		cfg.CheckpointRetries = DefaultConfig().CheckpointRetries
	}
	if deps.Rebuild == nil {
		deps.Rebuild = NewRebuildContext(false)
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}

	e := &Engine{
		cfg:      cfg,
		tracker:  deps.Tracker,
		source:   deps.Source,
		rebuild:  deps.Rebuild,
		pool:     deps.Pool,
		notifier: deps.Notifier,
		log:      logger.Named("engine"),
	}
	for _, name := range sortedSlots(assigned) {
		e.slots = append(e.slots, &slot{
			name:        name,
			projections: assigned[name],
			log:         logger.Named("slot", zap.String("slot", name)),
			state:       StateIdle,
		})
	}

	if e.pool == nil {
		e.pool, err = worker.NewPool("slots", len(e.slots), time.Minute)
		if err != nil {
			return nil, err
		}
		e.ownPool = true
	} else if e.pool.Cap() < len(e.slots) {
		return nil, fmt.Errorf("slot pool capacity %d is below %d slots", e.pool.Cap(), len(e.slots))
	}
	return e, nil
}

// Slots returns the names of the slots this engine runs.
func (e *Engine) Slots() []string {
	out := make([]string, len(e.slots))
	for i, s := range e.slots {
		out[i] = s.name
	}
	return out
}

// Status returns the state of every slot.
func (e *Engine) Status() []SlotStatus {
	out := make([]SlotStatus, len(e.slots))
	for i, s := range e.slots {
		out[i] = s.status()
	}
	return out
}

// SlotStatus returns the state of one slot.
func (e *Engine) SlotStatus(name string) (SlotStatus, bool) {
	for _, s := range e.slots {
		if s.name == name {
			return s.status(), true
		}
	}
	return SlotStatus{}, false
}

// ManualPoll reports whether the engine runs in manual-poll mode.
func (e *Engine) ManualPoll() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode == modeManual
}

// Start launches one worker per slot that polls until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != modeStopped {
		return ErrAlreadyRunning
	}
	if err := e.prepare(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.done = e.done[:0]
	for _, s := range e.slots {
		done, err := e.pool.Go(runCtx, func(ctx context.Context) { e.run(ctx, s) })
		if err != nil {
			cancel()
			e.waitWorkers()
			return fmt.Errorf("start slot %s: %w", s.name, err)
		}
		e.done = append(e.done, done)
	}
	e.cancel = cancel
	e.mode = modeContinuous
	e.log.Info("Projection engine started",
		zap.Strings("slots", e.Slots()),
		zap.Bool("rebuild", e.rebuild.Enabled()),
	)
	return nil
}

// StartWithManualPoll prepares every slot without starting workers. Progress
// happens only through Tick.
func (e *Engine) StartWithManualPoll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != modeStopped {
		return ErrAlreadyRunning
	}
	if err := e.prepare(ctx); err != nil {
		return err
	}
	e.mode = modeManual
	e.log.Info("Projection engine started with manual poll", zap.Strings("slots", e.Slots()))
	return nil
}

// Tick processes the backlog visible to every slot and returns. It never
// sleeps; a transient source or store failure ends the slot's part of the
// tick with that error and leaves its cursor on the failed changeset.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	m := e.mode
	e.mu.Unlock()
	switch m {
	case modeStopped:
		return ErrNotRunning
	case modeContinuous:
		return ErrManualPollDisabled
	}

	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if !e.ManualPoll() {
		return ErrNotRunning
	}

	// Slots drain independently on the slot pool; one failing slot does not
	// cut the others short.
	errs := make([]error, len(e.slots))
	done := make([]<-chan struct{}, 0, len(e.slots))
	for i, s := range e.slots {
		if s.getState() == StateFaulted {
			continue
		}
		ch, err := e.pool.Go(ctx, func(ctx context.Context) { errs[i] = e.drain(ctx, s) })
		if err != nil {
			errs[i] = fmt.Errorf("slot %s: %w", s.name, err)
			continue
		}
		done = append(done, ch)
	}
	for _, ch := range done {
		<-ch
	}
	return errors.Join(errs...)
}

// Stop ends all workers after their in-flight changeset and flushes the
// checkpoints they are allowed to persist. It blocks until every worker has
// exited.
func (e *Engine) Stop() {
	// A Tick in progress finishes first.
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == modeStopped {
		return
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.waitWorkers()

	ctx := context.Background()
	for _, s := range e.slots {
		if s.getState() != StateFaulted {
			e.flush(ctx, s)
			s.setState(StateStopped)
		}
	}
	e.mode = modeStopped
	e.log.Info("Projection engine stopped")
}

// Close stops the engine and releases the slot pool if the engine created it.
// The engine cannot be restarted afterwards.
func (e *Engine) Close() {
	e.Stop()
	if !e.ownPool {
		return
	}
	e.closeOnce.Do(func() {
		if err := e.pool.Release(5 * time.Second); err != nil {
			e.log.Warn("Slot pool release timeout", zap.Error(err))
		}
	})
}

func (e *Engine) waitWorkers() {
	for _, done := range e.done {
		<-done
	}
	e.done = nil
}

// prepare loads every slot's resume position. In rebuild mode slots start at
// Genesis, and once per engine their stored checkpoints are dropped before the
// resettable projections are cleared. A rebuild that dies midway therefore
// resumes from Genesis rather than from a checkpoint over purged read models.
func (e *Engine) prepare(ctx context.Context) error {
	rebuild := e.rebuild.Enabled()
	for _, s := range e.slots {
		if rebuild && !e.reset {
			if err := e.tracker.ResetCheckpoint(ctx, s.name); err != nil {
				return fmt.Errorf("reset checkpoint of slot %s: %w", s.name, err)
			}
			if err := resetProjections(ctx, s); err != nil {
				return err
			}
		}
		cp, err := e.tracker.GetCheckpoint(ctx, s.name)
		if err != nil {
			return fmt.Errorf("load checkpoint of slot %s: %w", s.name, err)
		}
		cursor := cp
		if rebuild {
			cursor = domain.Genesis
		}

		s.mu.Lock()
		s.checkpoint = cp
		s.cursor = cursor
		s.heldAt = domain.Genesis
		s.skipped = nil
		s.rebuilding = rebuild
		s.lastErr = nil
		s.state = StateIdle
		s.mu.Unlock()

		s.log.Info("Slot prepared",
			zap.Int64("checkpoint", int64(cp)),
			zap.Int64("resume_after", int64(cursor)),
			zap.Int("projections", len(s.projections)),
		)
	}
	if rebuild {
		e.reset = true
	}
	return nil
}

func resetProjections(ctx context.Context, s *slot) error {
	for _, p := range s.projections {
		r, ok := p.(Resetter)
		if !ok {
			continue
		}
		if err := r.Reset(ctx); err != nil {
			return fmt.Errorf("reset projection %s: %w", p.Name(), err)
		}
	}
	return nil
}

// run is the continuous worker loop of one slot.
func (e *Engine) run(ctx context.Context, s *slot) {
	bo := e.cfg.Backoff.NewBackOff()
	for ctx.Err() == nil {
		s.setState(StatePolling)
		progressed, err := e.step(ctx, s)
		switch {
		case errors.Is(err, ErrSlotFaulted):
			return
		case ctx.Err() != nil:
			return
		case err != nil:
			delay := bo.NextBackOff()
			s.setErr(err)
			s.log.Warn("Slot step failed, backing off",
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			backoff.Sleep(ctx, delay)
		case !progressed:
			bo.Reset()
			if err := e.caughtUp(ctx, s); err != nil {
				return
			}
			backoff.Sleep(ctx, e.cfg.PollInterval)
		default:
			bo.Reset()
		}
	}
}

// drain processes the visible backlog of one slot for Tick.
func (e *Engine) drain(ctx context.Context, s *slot) error {
	for {
		s.setState(StatePolling)
		progressed, err := e.step(ctx, s)
		if errors.Is(err, ErrSlotFaulted) {
			return nil
		}
		if err != nil {
			s.setErr(err)
			s.setState(StateIdle)
			return fmt.Errorf("slot %s: %w", s.name, err)
		}
		if !progressed {
			err := e.caughtUp(ctx, s)
			if errors.Is(err, ErrSlotFaulted) {
				return nil
			}
			s.setState(StateIdle)
			return err
		}
	}
}

// step fetches and dispatches at most one changeset. progressed is false when
// the log has nothing after the slot's cursor.
func (e *Engine) step(ctx context.Context, s *slot) (bool, error) {
	after := s.getCursor()
	cs, ok, err := e.source.FetchNext(ctx, after)
	if err != nil {
		if mce, malformed := commitlog.IsMalformed(err); malformed {
			return true, e.failed(ctx, s, mce.Position, err)
		}
		return false, err
	}
	if !ok {
		return false, nil
	}

	s.setState(StateDispatching)
	// Cancellation is honoured between changesets only.
	applyCtx := context.WithoutCancel(ctx)
	handled := 0
	var rejected, transient error
	for _, p := range s.projections {
		relevant, err := p.Handle(applyCtx, cs)
		if err != nil {
			s.log.Error("Projection failed",
				zap.String("projection", p.Name()),
				zap.String("aggregate_id", cs.AggregateID.String()),
				zap.Int64("position", int64(cs.Position)),
				zap.Error(err),
			)
			err = fmt.Errorf("%s: %w", p.Name(), err)
			if errors.Is(err, domain.ErrInvalidChangeset) {
				rejected = errors.Join(rejected, err)
			} else {
				transient = errors.Join(transient, err)
			}
			continue
		}
		if relevant {
			handled++
		}
	}
	// The cursor stays put so the changeset is fetched again. Projections
	// that already applied it skip it by position.
	if transient != nil {
		return false, fmt.Errorf("dispatch position %d: %w", cs.Position, transient)
	}
	if rejected != nil {
		return true, e.failed(ctx, s, cs.Position, rejected)
	}

	e.notifier.CommitHandled(applyCtx, s.name, cs, handled)
	return true, e.advance(ctx, s, cs.Position)
}

// failed records a changeset that could not be dispatched. The cursor moves
// on. The checkpoint either passes it (skip enabled) or stays below it.
func (e *Engine) failed(ctx context.Context, s *slot, pos domain.Position, err error) error {
	s.mu.Lock()
	s.lastErr = err
	if e.cfg.SkipInvalidChangesets {
		s.skipped = append(s.skipped, pos)
	} else if s.heldAt == domain.Genesis {
		s.heldAt = pos
	}
	s.mu.Unlock()

	if e.cfg.SkipInvalidChangesets {
		s.log.Error("Changeset skipped", zap.Int64("position", int64(pos)), zap.Error(err))
	} else {
		s.log.Error("Changeset failed, checkpoint held until restart",
			zap.Int64("position", int64(pos)),
			zap.Error(err),
		)
	}
	return e.advance(ctx, s, pos)
}

// advance moves the cursor to pos and persists the checkpoint unless a
// rebuild defers it.
func (e *Engine) advance(ctx context.Context, s *slot, pos domain.Position) error {
	s.mu.Lock()
	s.cursor = pos
	rebuilding := s.rebuilding
	s.mu.Unlock()
	if rebuilding {
		return nil
	}
	return e.persist(ctx, s)
}

// caughtUp ends a slot's rebuild phase the first time it drains the log.
func (e *Engine) caughtUp(ctx context.Context, s *slot) error {
	s.mu.Lock()
	wasRebuilding := s.rebuilding
	s.rebuilding = false
	s.mu.Unlock()
	if !wasRebuilding {
		return nil
	}
	s.log.Info("Slot rebuild caught up", zap.Int64("position", int64(s.getCursor())))
	return e.persist(ctx, s)
}

// persist writes the slot's checkpoint with bounded retries. Exhausting them
// faults the slot.
func (e *Engine) persist(ctx context.Context, s *slot) error {
	target := s.persistTarget()
	s.mu.RLock()
	current := s.checkpoint
	s.mu.RUnlock()
	if target <= current {
		return nil
	}

	s.setState(StateCheckpointAdvance)
	policy := e.cfg.Backoff
	policy.MaxAttempts = e.cfg.CheckpointRetries
	attempt := 0
	err := policy.Retry(ctx, func(ctx context.Context) error {
		attempt++
		err := e.tracker.SetCheckpoint(context.WithoutCancel(ctx), s.name, target)
		if err != nil {
			s.log.Warn("Checkpoint write failed",
				zap.Int64("position", int64(target)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	switch {
	case err == nil:
		s.mu.Lock()
		s.checkpoint = target
		s.mu.Unlock()
		return nil
	case ctx.Err() != nil:
		// Stop interrupted the retry; flush gets another chance.
		return nil
	default:
		err = fmt.Errorf("%w: persist checkpoint %d: %v", ErrSlotFaulted, target, err)
		s.fault(err)
		s.log.Error("Slot faulted", zap.Int64("position", int64(target)), zap.Error(err))
		return err
	}
}

// flush persists whatever the slot may persist at shutdown.
func (e *Engine) flush(ctx context.Context, s *slot) {
	target := s.persistTarget()
	s.mu.RLock()
	current := s.checkpoint
	s.mu.RUnlock()
	if target <= current {
		return
	}
	if err := e.tracker.SetCheckpoint(ctx, s.name, target); err != nil {
		s.log.Error("Checkpoint flush failed", zap.Int64("position", int64(target)), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.checkpoint = target
	s.mu.Unlock()
}
