// Package sweeper periodically deactivates punishments whose expiry has
// passed. Reads already ignore expired records, so a missed sweep only
// leaves stale rows marked active; it never lets a banned subject in or
// keeps an expired one out.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/warden/pkg/datastore"
	"github.com/NicolasHaas/warden/pkg/metrics"
)

const DefaultInterval = 5 * time.Minute

// Expirer is the store call a sweep needs.
type Expirer interface {
	DeactivateExpired(ctx context.Context, asOf time.Time) (int64, error)
}

var _ Expirer = (datastore.PunishmentStore)(nil)

// Options configures a Sweeper. Only Store is required.
type Options struct {
	Store    Expirer
	Interval time.Duration
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Sweeper runs DeactivateExpired on a fixed period.
type Sweeper struct {
	store    Expirer
	interval time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger
	clock    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped sweeper.
func New(opts Options) *Sweeper {
	s := &Sweeper{
		store:    opts.Store,
		interval: opts.Interval,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		clock:    opts.Clock,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// RunOnce performs a single sweep and returns how many records it
// deactivated.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	s.metrics.SweepRuns.Add(1)
	asOf := s.clock()

	n, err := s.store.DeactivateExpired(ctx, asOf)
	if err != nil {
		s.metrics.SweepFailures.Add(1)
		s.log.Error("expiration sweep failed", "as_of", asOf, "err", err)
		return 0, err
	}

	s.metrics.PunishmentsExpired.Add(n)
	if n > 0 {
		s.log.Info("expired punishments deactivated", "count", n)
	} else {
		s.log.Debug("expiration sweep found nothing", "as_of", asOf)
	}
	return n, nil
}

// Start begins sweeping every interval until ctx ends or Stop is
// called. The first sweep happens one interval after Start. Calling
// Start on a running sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("expiration sweeper started", "interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				s.log.Info("expiration sweeper stopped")
				return
			case <-ticker.C:
				// Errors are logged inside RunOnce; the schedule continues.
				_, _ = s.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the schedule and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
