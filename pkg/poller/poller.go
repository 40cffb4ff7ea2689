package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lgesmon/lgesmon/pkg/log"
	"github.com/lgesmon/lgesmon/pkg/sems"
	"github.com/lgesmon/lgesmon/pkg/types"
)

// after this many consecutive auth-failed cycles the condition is surfaced
// as persistent instead of silently retried
const persistentAuthFailures = 3

// Fetcher is the portal surface the poller drives each cycle.
type Fetcher interface {
	AllSnapshots(ctx context.Context) (map[string]types.Snapshot, error)
	Invalidate()
}

// Sink receives the full snapshot set after each successful cycle.
type Sink interface {
	Publish(ctx context.Context, snaps map[string]types.Snapshot)
}

// Poller fetches all site snapshots on a fixed interval and fans the result
// out to its sinks. Only the latest cycle's snapshots are retained.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	sinks    []Sink

	mu           sync.Mutex
	latest       map[string]types.Snapshot
	lastSuccess  time.Time
	authFailures int
	polling      bool
}

// New returns a Poller that drives the given fetcher on the given interval.
func New(f Fetcher, interval time.Duration) *Poller {
	return &Poller{
		fetcher:  f,
		interval: interval,
	}
}

// AddSink registers a sink. Must be called before Run.
func (p *Poller) AddSink(s Sink) {
	p.sinks = append(p.sinks, s)
}

// Run polls immediately, then on every interval until the context is
// canceled.
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)

	c := cron.New()
	if _, err := c.AddFunc("@every "+p.interval.String(), func() {
		p.poll(ctx)
	}); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "starting poller", slog.Duration("interval", p.interval))
	c.Start()

	<-ctx.Done()
	log.Ctx(ctx).InfoContext(ctx, "stopping poller")
	stopCtx := c.Stop()
	// wait for an in-flight cycle to finish
	<-stopCtx.Done()
	return nil
}

func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	if p.polling {
		p.mu.Unlock()
		log.Ctx(ctx).WarnContext(ctx, "previous poll cycle still running, skipping")
		return
	}
	p.polling = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.polling = false
		p.mu.Unlock()
	}()

	snaps, err := p.fetcher.AllSnapshots(ctx)
	if err != nil {
		var authErr *sems.AuthError
		if errors.As(err, &authErr) {
			p.fetcher.Invalidate()
			p.mu.Lock()
			p.authFailures++
			n := p.authFailures
			p.mu.Unlock()
			if n >= persistentAuthFailures {
				log.Ctx(ctx).ErrorContext(ctx, "authentication persistently failing", slog.Int("consecutiveFailures", n), slog.Any("error", err))
			} else {
				log.Ctx(ctx).WarnContext(ctx, "authentication failed, will retry next cycle", slog.Int("consecutiveFailures", n), slog.Any("error", err))
			}
			return
		}
		log.Ctx(ctx).WarnContext(ctx, "poll cycle failed", slog.Any("error", err))
		return
	}

	p.mu.Lock()
	p.authFailures = 0
	p.latest = snaps
	p.lastSuccess = time.Now()
	p.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "poll cycle complete", slog.Int("sites", len(snaps)))
	for _, s := range p.sinks {
		s.Publish(ctx, snaps)
	}
}

// Latest returns a copy of the most recent cycle's snapshots.
func (p *Poller) Latest() map[string]types.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]types.Snapshot, len(p.latest))
	for id, s := range p.latest {
		out[id] = s
	}
	return out
}

// LastSuccess returns when the last successful cycle finished, zero if none
// has yet.
func (p *Poller) LastSuccess() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSuccess
}

// AuthFailures returns the count of consecutive auth-failed cycles.
func (p *Poller) AuthFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authFailures
}

// Persistent reports whether authentication has failed enough consecutive
// cycles to be considered persistently failing.
func (p *Poller) Persistent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authFailures >= persistentAuthFailures
}
