package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Tick Run Types
// ---------------------------------------------------------------------------

// TickStatus represents the status of one daemon iteration
type TickStatus string

const (
	TickStatusRunning TickStatus = "RUNNING"
	TickStatusSuccess TickStatus = "SUCCESS"
	TickStatusFailed  TickStatus = "FAILED"
)

// TickKind distinguishes the initial full import from regular ticks
type TickKind string

const (
	TickKindBootstrap TickKind = "BOOTSTRAP"
	TickKindRegular   TickKind = "REGULAR"
)

// TickRun records one daemon iteration
type TickRun struct {
	ID          uuid.UUID
	Kind        TickKind
	Status      TickStatus
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

func newTickRun(kind TickKind, now time.Time) *TickRun {
	return &TickRun{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    TickStatusRunning,
		StartedAt: now,
	}
}

// Duration returns how long the run took, or zero while it is running
func (r *TickRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

func (r *TickRun) finish(err error, now time.Time) {
	r.CompletedAt = &now
	if err != nil {
		r.Status = TickStatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = TickStatusSuccess
}

// ---------------------------------------------------------------------------
// SyncRunner Interface
// ---------------------------------------------------------------------------

// SyncRunner performs the work of one daemon iteration
type SyncRunner interface {
	// EnsureFullImport runs a full import when none was ever recorded.
	EnsureFullImport(ctx context.Context) (bool, error)
	// Tick imports the records registered today, then pushes unsynced ones.
	Tick(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// SyncDaemonConfig
// ---------------------------------------------------------------------------

// SyncDaemonConfig holds configuration for the sync daemon
type SyncDaemonConfig struct {
	// Interval is the pause between the end of one tick and the start of the next
	Interval time.Duration
	// TickTimeout bounds a single tick. Zero means no bound.
	TickTimeout time.Duration
	// MaxHistory is the number of tick runs kept for monitoring
	MaxHistory int
}

// DefaultSyncDaemonConfig returns default configuration
func DefaultSyncDaemonConfig() SyncDaemonConfig {
	return SyncDaemonConfig{
		Interval:   60 * time.Second,
		MaxHistory: 50,
	}
}

// Validate validates the configuration
func (c *SyncDaemonConfig) Validate() error {
	if c.Interval <= 0 {
		return ErrInvalidConfig
	}
	if c.TickTimeout < 0 {
		return ErrInvalidConfig
	}
	if c.MaxHistory <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// SyncDaemon
// ---------------------------------------------------------------------------

// SyncDaemon runs the sync loop: an initial full import when none was ever
// recorded, then import-today followed by push every Interval. A failing
// tick is logged and the loop continues.
type SyncDaemon struct {
	config SyncDaemonConfig
	runner SyncRunner
	logger *zap.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
	isRunning bool

	historyMu sync.RWMutex
	history   []*TickRun
}

// NewSyncDaemon creates a new sync daemon
func NewSyncDaemon(config SyncDaemonConfig, runner SyncRunner, logger *zap.Logger) (*SyncDaemon, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SyncDaemon{
		config:  config,
		runner:  runner,
		logger:  logger.Named("daemon"),
		now:     time.Now,
		history: make([]*TickRun, 0, config.MaxHistory),
	}, nil
}

// Start starts the loop in the background
func (d *SyncDaemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return ErrDaemonAlreadyRunning
	}
	d.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		d.loop(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for the current tick to return
func (d *SyncDaemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()

	select {
	case <-done:
		d.logger.Info("Sync daemon stopped gracefully")
		return nil
	case <-ctx.Done():
		d.logger.Warn("Sync daemon stop timed out")
		return ctx.Err()
	}
}

// Run blocks until ctx is cancelled
func (d *SyncDaemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Stop(context.Background())
}

func (d *SyncDaemon) loop(ctx context.Context) {
	d.logger.Info("Sync daemon started", zap.Duration("interval", d.config.Interval))

	d.execute(ctx, TickKindBootstrap, func(ctx context.Context) error {
		ran, err := d.runner.EnsureFullImport(ctx)
		if ran && err == nil {
			d.logger.Info("Initial full import completed")
		}
		return err
	})

	for {
		if ctx.Err() != nil {
			return
		}
		d.execute(ctx, TickKindRegular, d.runner.Tick)

		timer := time.NewTimer(d.config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// execute runs fn as one recorded tick
func (d *SyncDaemon) execute(ctx context.Context, kind TickKind, fn func(context.Context) error) {
	run := newTickRun(kind, d.now())
	log := d.logger.With(zap.String("tick_id", run.ID.String()), zap.String("kind", string(kind)))

	tickCtx := ctx
	if d.config.TickTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(ctx, d.config.TickTimeout)
		defer cancel()
	}

	err := fn(tickCtx)
	run.finish(err, d.now())
	d.addToHistory(run)

	if err != nil {
		log.Error("Sync tick failed", zap.Duration("took", run.Duration()), zap.Error(err))
		return
	}
	log.Info("Sync tick completed", zap.Duration("took", run.Duration()))
}

// addToHistory adds a finished run to history
func (d *SyncDaemon) addToHistory(run *TickRun) {
	d.historyMu.Lock()
	defer d.historyMu.Unlock()

	d.history = append([]*TickRun{run}, d.history...)
	if len(d.history) > d.config.MaxHistory {
		d.history = d.history[:d.config.MaxHistory]
	}
}

// GetRunHistory returns recent tick runs, newest first
func (d *SyncDaemon) GetRunHistory(limit int) []*TickRun {
	d.historyMu.RLock()
	defer d.historyMu.RUnlock()

	if limit <= 0 || limit > len(d.history) {
		limit = len(d.history)
	}
	result := make([]*TickRun, limit)
	copy(result, d.history[:limit])
	return result
}

// IsRunning reports whether the loop is active
func (d *SyncDaemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isRunning
}
