// Package poll implements the observing side of the coaching engine: a
// coach panel that refetches one call's state snapshot at a fixed cadence
// and reconciles its local view. Polling is kept as the live-update model
// deliberately: it tolerates dropped connections and keeps the server
// stateless per request.
package poll

import (
	"context"
	"sync"
	"time"

	"coachcall-server/pkg/coaching"

	"github.com/sirupsen/logrus"
)

// StateFetcher retrieves the latest snapshot for a call
type StateFetcher interface {
	FetchState(ctx context.Context, callID string) (*coaching.Snapshot, error)
}

// Poller observes one call. On each tick it fetches the latest snapshot; a
// failed tick keeps the prior rendered state and polling continues. Stopping
// the poller cancels the timer immediately; a fetch already in flight is not
// aborted but its result is discarded.
type Poller struct {
	logger   *logrus.Entry
	fetcher  StateFetcher
	callID   string
	interval time.Duration

	mu sync.Mutex
	// snapshot is the last good state; retained across failed ticks so the
	// panel never flickers to empty
	snapshot         *coaching.Snapshot
	lastSeenSeq      int64
	pendingScroll    bool
	failures         int
	expandedSections map[string]bool
	started          bool
	stopped          bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller for the given call
func New(fetcher StateFetcher, callID string, interval time.Duration, logger *logrus.Logger) *Poller {
	return &Poller{
		logger:           logger.WithField("component", "poller").WithField("call_id", callID),
		fetcher:          fetcher,
		callID:           callID,
		interval:         interval,
		expandedSections: make(map[string]bool),
		done:             make(chan struct{}),
	}
}

// Start begins polling: one immediate fetch, then one per interval until
// Stop is called or the parent context ends. Calling Start again is a no-op.
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.stopped || p.started {
		p.mu.Unlock()
		cancel()
		return
	}
	p.started = true
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		defer close(p.done)

		p.tick(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

// Stop ends polling. Safe to call more than once; the panel's prior state
// remains readable after stopping.
func (p *Poller) Stop() {
	p.mu.Lock()
	alreadyStopped := p.stopped
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if alreadyStopped {
		return
	}
	if cancel != nil {
		cancel()
		<-p.done
	}
}

// tick performs one poll cycle
func (p *Poller) tick(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	snapshot, err := p.fetcher.FetchState(fetchCtx, p.callID)

	p.mu.Lock()
	defer p.mu.Unlock()

	// The panel may have been unmounted while the fetch was in flight.
	if p.stopped {
		return
	}

	if err != nil {
		// Transient failure: keep the last good state, retry next tick.
		p.failures++
		p.logger.WithError(err).WithField("consecutive_failures", p.failures).Debug("Poll tick failed")
		return
	}

	if err := snapshot.Validate(); err != nil {
		// Should never happen; discard and refetch next tick rather than
		// render an inconsistent view.
		p.failures++
		p.logger.WithError(err).Warn("Discarded inconsistent snapshot")
		return
	}

	p.failures = 0
	p.snapshot = snapshot

	if snapshot.LastSequence > p.lastSeenSeq {
		p.lastSeenSeq = snapshot.LastSequence
		p.pendingScroll = true
	}
}

// Snapshot returns the last good snapshot, or nil before the first
// successful tick
func (p *Poller) Snapshot() *coaching.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// ConsumeAutoScroll reports whether new transcript entries arrived since the
// last call, resetting the flag. The panel scrolls to the newest entry when
// true.
func (p *Poller) ConsumeAutoScroll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := p.pendingScroll
	p.pendingScroll = false
	return pending
}

// ConsecutiveFailures returns the current run of failed ticks; a sustained
// run degrades the panel to "last known state" messaging
func (p *Poller) ConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// ToggleSection flips a panel section's expanded state. Section state is
// pure local UI state, independent of server snapshots.
func (p *Poller) ToggleSection(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expandedSections[name] = !p.expandedSections[name]
	return p.expandedSections[name]
}

// IsExpanded reports a section's expanded state
func (p *Poller) IsExpanded(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expandedSections[name]
}

