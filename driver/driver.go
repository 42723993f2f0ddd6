// Package driver runs the background maintenance of a
// canqueue.CanisterQueues value: periodic message expiration, load
// shedding under memory pressure, and queue garbage collection.
//
// The core queueing types are pure data structures with no clocks, locks
// or logging; this package is the boundary where all three are introduced.
package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	canqueue "github.com/joeycumines/go-canqueue"
	"github.com/joeycumines/go-canqueue/message"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval = time.Second
	defaultGCInterval   = 10 * time.Second
)

type (
	// Config configures a Driver.
	Config struct {
		// OwnCanisterID identifies the canister whose queues are driven.
		OwnCanisterID message.CanisterID

		// LocalCanisters is the set of canisters on the same subnet, used
		// to pick the correct input schedule when timeouts generate reject
		// responses. May be nil.
		LocalCanisters map[message.CanisterID]struct{}

		// PollInterval is the expiration / shedding cadence.
		// Defaults to 1s if zero.
		PollInterval time.Duration

		// GCInterval is the queue garbage collection cadence.
		// Defaults to 10s if zero.
		GCInterval time.Duration

		// BestEffortMemoryLimitBytes triggers load shedding while the
		// best-effort memory usage exceeds it, if positive.
		BestEffortMemoryLimitBytes int

		// StripOversizedIngress strips oversized ingress method payloads
		// on admission via PushIngress.
		StripOversizedIngress bool

		// Logger receives structured logs. Defaults to a disabled logger
		// if nil.
		Logger *logiface.Logger[logiface.Event]

		// Clock supplies the current time. Defaults to time.Now if nil.
		// The queueing layer only ever observes it at coarse (second)
		// granularity, and expects it to be monotonic.
		Clock func() time.Time
	}

	// Driver serializes access to a CanisterQueues value and runs its
	// periodic maintenance.
	Driver struct {
		cfg Config
		log *logiface.Logger[logiface.Event]

		mu     sync.Mutex
		queues *canqueue.CanisterQueues
	}
)

// New returns a driver over queues. The queues value must not be accessed
// except through the returned driver from this point on.
func New(queues *canqueue.CanisterQueues, cfg Config) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = defaultGCInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logiface.New[logiface.Event]()
	}
	return &Driver{cfg: cfg, log: log, queues: queues}
}

// WithLock runs f with exclusive access to the driven queues. Producers
// and consumers use this to push and pop messages between maintenance
// ticks.
func (x *Driver) WithLock(f func(q *canqueue.CanisterQueues)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	f(x.queues)
}

// PushIngress admits an ingress message, stripping oversized payloads
// first if so configured.
func (x *Driver) PushIngress(ing *message.Ingress) {
	if x.cfg.StripOversizedIngress {
		if stripped := message.StripLargeIngressArg(ing); stripped != ing {
			x.log.Debug().
				Stringer(`source`, ing.Source).
				Int(`size_bytes`, ing.SizeBytes()).
				Log(`stripped oversized ingress payload`)
			ing = stripped
		}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.queues.PushIngress(ing)
}

// Run drives expiration, shedding and garbage collection until ctx is
// cancelled. Returns ctx.Err() on cancellation.
func (x *Driver) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return x.pollLoop(ctx) })
	g.Go(func() error { return x.gcLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		x.log.Info().Log(`driver stopped`)
	}
	return err
}

func (x *Driver) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(x.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			x.tick(x.cfg.Clock())
		}
	}
}

func (x *Driver) gcLoop(ctx context.Context) error {
	ticker := time.NewTicker(x.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			x.mu.Lock()
			x.queues.GarbageCollect()
			x.mu.Unlock()
			x.log.Debug().Log(`garbage collected queue pairs`)
		}
	}
}

// tick runs one expiration / shedding pass at the given time.
func (x *Driver) tick(now time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.queues.HasExpiredDeadlines(now) {
		timedOut := x.queues.TimeOutMessages(now, x.cfg.OwnCanisterID, x.cfg.LocalCanisters)
		x.log.Info().
			Int(`timed_out`, timedOut).
			Int64(`now_unix`, now.Unix()).
			Log(`timed out expired messages`)
	}

	if x.cfg.BestEffortMemoryLimitBytes > 0 {
		shed := 0
		for x.queues.BestEffortMemoryUsage() > x.cfg.BestEffortMemoryLimitBytes {
			if !x.queues.ShedLargestMessage(x.cfg.OwnCanisterID, x.cfg.LocalCanisters) {
				break
			}
			shed++
		}
		if shed > 0 {
			x.log.Info().
				Int(`shed`, shed).
				Int(`best_effort_bytes`, x.queues.BestEffortMemoryUsage()).
				Log(`shed best-effort messages over memory limit`)
		}
	}
}
