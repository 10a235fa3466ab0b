package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/metrics"
	"github.com/arenadata/adcm/pkg/queuer"
	"github.com/arenadata/adcm/pkg/storage"
	"golang.org/x/time/rate"
)

// Loop names
const (
	LoopLauncher  = "launcher"
	LoopMonitor   = "monitor"
	LoopRecoverer = "recoverer"
)

// Loops lists every loop the supervisor starts, recoverer first
var Loops = []string{LoopRecoverer, LoopLauncher, LoopMonitor}

// maxBackoff caps the wait after consecutive failed ticks
const maxBackoff = 30 * time.Second

// Options configures the scheduler loops
type Options struct {
	Hostname         string
	LauncherInterval time.Duration
	MonitorInterval  time.Duration
	// LaunchRate bounds launches per second; zero means unbounded
	LaunchRate     float64
	ClaimTTL       time.Duration
	HeartbeatStale time.Duration
	// ErrorBackoff is the first wait after a failed tick
	ErrorBackoff time.Duration
}

// Scheduler dispatches queued tasks and watches launched ones
type Scheduler struct {
	store   storage.Store
	manager *lifecycle.Manager
	queuer  queuer.Queuer
	events  events.Publisher
	opts    Options

	limiter *rate.Limiter
	claimer string
	now     func() time.Time
}

// New creates a scheduler. q may be nil for processes that only monitor or
// recover.
func New(store storage.Store, manager *lifecycle.Manager, q queuer.Queuer, publisher events.Publisher, opts Options) *Scheduler {
	if opts.LauncherInterval <= 0 {
		opts.LauncherInterval = time.Second
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = 5 * time.Second
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = time.Minute
	}
	if opts.HeartbeatStale <= 0 {
		opts.HeartbeatStale = 30 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}

	limit := rate.Inf
	burst := 1
	if opts.LaunchRate > 0 {
		limit = rate.Limit(opts.LaunchRate)
		burst = int(opts.LaunchRate)
		if burst < 1 {
			burst = 1
		}
	}

	return &Scheduler{
		store:   store,
		manager: manager,
		queuer:  q,
		events:  publisher,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		claimer: "launcher@" + opts.Hostname,
		now:     time.Now,
	}
}

// RunLoop runs the named loop until ctx is cancelled. The recoverer runs a
// single pass and returns.
func (s *Scheduler) RunLoop(ctx context.Context, name string) error {
	switch name {
	case LoopLauncher:
		if s.queuer == nil {
			return fmt.Errorf("launcher requires a queuer")
		}
		return s.tick(ctx, name, s.opts.LauncherInterval, func(ctx context.Context) error {
			_, err := s.LaunchPending(ctx)
			return err
		})
	case LoopMonitor:
		return s.tick(ctx, name, s.opts.MonitorInterval, func(ctx context.Context) error {
			_, err := s.MonitorOnce(ctx)
			return err
		})
	case LoopRecoverer:
		timer := metrics.NewTimer()
		report, err := s.Recover(ctx)
		timer.ObserveDurationVec(metrics.LoopTickDuration, name)
		if err != nil {
			metrics.LoopErrors.WithLabelValues(name).Inc()
			return err
		}
		report.Log(log.WithLoop(name))
		return nil
	}
	return fmt.Errorf("unknown loop %q", name)
}

// tick calls fn every interval. A failed tick is logged and the next one is
// delayed by an exponential backoff capped at maxBackoff.
func (s *Scheduler) tick(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	logger := log.WithLoop(name)
	logger.Info().Dur("interval", interval).Msg("Loop started")

	wait := interval
	backoff := s.opts.ErrorBackoff
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Loop stopped")
			return nil
		case <-time.After(wait):
		}

		timer := metrics.NewTimer()
		err := fn(ctx)
		timer.ObserveDurationVec(metrics.LoopTickDuration, name)

		if err == nil || ctx.Err() != nil {
			wait = interval
			backoff = s.opts.ErrorBackoff
			continue
		}

		metrics.LoopErrors.WithLabelValues(name).Inc()
		logger.Error().Err(err).Dur("backoff", backoff).Msg("Loop tick failed")
		wait = backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
