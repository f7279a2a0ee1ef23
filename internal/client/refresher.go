package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// RefresherConfig tunes the background refresh loop.
type RefresherConfig struct {
	// PollInterval is the pause between successful cycles.
	PollInterval time.Duration
	Backoff      BackoffConfig
}

func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		PollInterval: 5 * time.Second,
		Backoff:      DefaultBackoff(),
	}
}

// Refresher polls the server for revision changes and refreshes every
// database when one is seen. Servers without /update get a full refresh on
// every poll. Failures are logged and retried after a backoff; they never
// end the loop.
type Refresher struct {
	c       *Client
	cfg     RefresherConfig
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	rng     *rand.Rand

	mu  sync.Mutex
	err error
}

// StartRefresher launches the loop on its own goroutine.
func (c *Client) StartRefresher(ctx context.Context, cfg RefresherConfig) *Refresher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRefresherConfig().PollInterval
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Refresher{
		c:      c,
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	r.running.Store(true)
	go r.run(ctx)
	return r
}

// Running reports whether the loop has not yet been asked to stop.
func (r *Refresher) Running() bool {
	return r.running.Load()
}

// Stop asks the loop to exit, aborts in-flight requests when the transport
// allows it and waits for the goroutine.
func (r *Refresher) Stop() {
	if r.running.CompareAndSwap(true, false) {
		r.cancel()
		if cc, ok := r.c.transport.(canceler); ok {
			cc.CancelAll()
		}
	}
	<-r.done
}

// Done is closed once the loop has exited.
func (r *Refresher) Done() <-chan struct{} {
	return r.done
}

// Err returns why the loop exited on its own, or ErrStopped after Stop.
func (r *Refresher) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.done)
	defer r.cancel()
	log := r.c.log.With().Str("loop", "refresher").Logger()
	log.Info().Dur("poll", r.cfg.PollInterval).Msg("refresher started")

	attempt := 0
	for r.running.Load() {
		err := r.cycle(ctx)
		if !r.running.Load() || ctx.Err() != nil {
			break
		}
		if errors.Is(err, ErrNotLoggedIn) {
			r.finish(err)
			log.Info().Msg("refresher exiting: session ended")
			return
		}

		wait := r.cfg.PollInterval
		if err != nil {
			attempt++
			wait = r.cfg.Backoff.Delay(attempt, r.rng)
			log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("refresh cycle failed")
		} else {
			attempt = 0
		}
		if !r.sleep(ctx, wait) {
			break
		}
	}
	r.finish(ErrStopped)
	log.Info().Msg("refresher stopped")
}

// cycle runs one poll: wait for a revision change, then refresh.
func (r *Refresher) cycle(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("client: refresher panic: %v", p)
		}
	}()

	rev, err := r.c.Update(ctx)
	if isUpdateUnsupported(err) {
		// no revision tracking: re-list everything every poll
		return r.refresh(ctx, 0)
	}
	if err != nil {
		return err
	}
	if !r.running.Load() {
		return nil
	}
	if rev == r.c.Session().Revision {
		return nil
	}
	return r.refresh(ctx, rev)
}

// refresh picks up added or removed databases, then refreshes them all.
func (r *Refresher) refresh(ctx context.Context, rev int32) error {
	if err := r.c.FetchDatabases(ctx); err != nil {
		return err
	}
	failed, err := r.c.refreshAll(ctx, rev)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("client: %d database refreshes failed", failed)
	}
	return nil
}

func (r *Refresher) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return r.running.Load()
	}
}

func (r *Refresher) finish(err error) {
	r.running.Store(false)
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}
