// Package daemon owns the sync triggers.
//
// The daemon:
//  1. Runs a full sync at startup
//  2. Runs a full sync on every interval tick
//  3. Runs a full sync exactly once per offline→online transition
//  4. Runs a full sync when the app returns to the foreground
//  5. Runs a full sync on explicit user request (SyncNow)
//  6. Handles graceful shutdown
//
// Triggers never queue up behind a running cycle: the engine ignores them
// and the daemon logs that it did.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/motogarage/garage/internal/offline/connectivity"
	"github.com/motogarage/garage/internal/offline/engine"
	"github.com/motogarage/garage/internal/offline/schema"
)

// Syncer runs one full sync cycle. *engine.Engine implements it.
type Syncer interface {
	FullSync(ctx context.Context) (schema.Report, error)
}

// Reason names what triggered a sync.
type Reason string

const (
	ReasonStartup    Reason = "startup"
	ReasonInterval   Reason = "interval"
	ReasonOnline     Reason = "online"
	ReasonForeground Reason = "foreground"
	ReasonManual     Reason = "manual"
)

// Config holds configuration for the daemon.
type Config struct {
	// Interval between periodic full syncs. Zero disables the timer.
	Interval time.Duration

	// SyncOnStart runs a full sync as soon as Start is called.
	SyncOnStart bool

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:    5 * time.Minute,
		SyncOnStart: true,
		Logger:      log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon wires the triggers to a Syncer.
type Daemon struct {
	syncer  Syncer
	monitor connectivity.Monitor
	config  *Config

	mu         sync.Mutex
	stopped    bool
	lastReport schema.Report
	lastAt     time.Time
	lastErr    error

	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon with the default configuration.
//
// Use Start() to begin reacting to triggers.
func New(syncer Syncer, monitor connectivity.Monitor) (*Daemon, error) {
	return NewWithConfig(syncer, monitor, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer Syncer, monitor connectivity.Monitor, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:  syncer,
		monitor: monitor,
		config:  config,
		ready:   make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start subscribes to connectivity, starts the interval timer and blocks
// until ctx is cancelled or Stop is called. A Daemon is started once.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	unsubscribe := d.monitor.Subscribe(func(t connectivity.Transition) {
		if t == connectivity.WentOnline {
			d.config.Logger.Println("Connectivity restored")
			d.trigger(ReasonOnline)
		} else {
			d.config.Logger.Println("Connectivity lost, writes will queue")
		}
	})
	defer unsubscribe()

	if d.config.SyncOnStart {
		d.trigger(ReasonStartup)
	}

	if d.config.Interval > 0 && d.startTicker() {
		d.config.Logger.Printf("Syncing every %s", d.config.Interval)
	}

	close(d.ready)

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Ready is closed once Start has subscribed to connectivity.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Stop gracefully shuts down the daemon and waits for running syncs.
// Calling Stop more than once is safe.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	d.config.Logger.Println("Stopping daemon")
	d.cancel()
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Foreground reports that the app became visible again.
func (d *Daemon) Foreground() {
	d.trigger(ReasonForeground)
}

// SyncNow runs a full sync synchronously and returns its outcome.
// It returns engine.ErrCycleInProgress if another cycle is running.
func (d *Daemon) SyncNow(ctx context.Context) (schema.Report, error) {
	return d.run(ctx, ReasonManual)
}

// LastResult returns the outcome of the most recent sync attempt that ran.
func (d *Daemon) LastResult() (report schema.Report, at time.Time, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReport, d.lastAt, d.lastErr
}

// trigger starts a background sync unless the daemon has stopped.
func (d *Daemon) trigger(reason Reason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_, _ = d.run(d.ctx, reason)
	}()
}

func (d *Daemon) run(ctx context.Context, reason Reason) (schema.Report, error) {
	report, err := d.syncer.FullSync(ctx)
	switch {
	case errors.Is(err, engine.ErrCycleInProgress):
		d.config.Logger.Printf("Sync already in progress, ignoring %s trigger", reason)
		return report, err
	case errors.Is(err, engine.ErrOffline):
		d.config.Logger.Printf("Skipping %s sync: offline", reason)
		return report, err
	case err != nil:
		d.config.Logger.Printf("Error during %s sync: %v", reason, err)
	default:
		d.config.Logger.Printf("Sync (%s): applied=%d failed=%d skipped=%d",
			reason, report.Applied, report.Failed, report.Skipped)
	}

	d.mu.Lock()
	d.lastReport = report
	d.lastAt = time.Now()
	d.lastErr = err
	d.mu.Unlock()
	return report, err
}

// startTicker launches tick unless the daemon has stopped.
func (d *Daemon) startTicker() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	d.wg.Add(1)
	go d.tick()
	return true
}

// tick runs the periodic full sync.
func (d *Daemon) tick() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			_, _ = d.run(d.ctx, ReasonInterval)
		}
	}
}
