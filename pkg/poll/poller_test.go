package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"coachcall-server/pkg/coaching"
	apperrors "coachcall-server/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// scriptedFetcher returns queued results in order, repeating the last one
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	snapshot *coaching.Snapshot
	err      error
}

func (f *scriptedFetcher) FetchState(ctx context.Context, callID string) (*coaching.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	index := f.calls
	if index >= len(f.results) {
		index = len(f.results) - 1
	}
	f.calls++
	result := f.results[index]
	return result.snapshot, result.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func snapshotAt(sequence int64) *coaching.Snapshot {
	return &coaching.Snapshot{LastSequence: sequence, TakenAt: time.Now()}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPoller_FetchesImmediatelyAndOnInterval(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snapshot: snapshotAt(1)},
		{snapshot: snapshotAt(2)},
	}}
	poller := New(fetcher, "call-1", 10*time.Millisecond, newTestLogger())
	poller.Start(context.Background())
	defer poller.Stop()

	waitFor(t, func() bool { return fetcher.callCount() >= 2 })
	waitFor(t, func() bool {
		s := poller.Snapshot()
		return s != nil && s.LastSequence == 2
	})
}

func TestPoller_FailedTickKeepsLastGoodState(t *testing.T) {
	fetchErr := apperrors.Wrap(apperrors.ErrTimeout, "state fetch timed out")
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snapshot: snapshotAt(5)},
		{err: fetchErr},
	}}
	poller := New(fetcher, "call-1", 10*time.Millisecond, newTestLogger())
	poller.Start(context.Background())
	defer poller.Stop()

	waitFor(t, func() bool { return poller.ConsecutiveFailures() >= 2 })

	// The panel still shows the last good snapshot
	snapshot := poller.Snapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, int64(5), snapshot.LastSequence)
}

func TestPoller_FailureCountResetsOnSuccess(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{
		{err: apperrors.New("broker hiccup")},
		{err: apperrors.New("broker hiccup")},
		{snapshot: snapshotAt(1)},
	}}
	poller := New(fetcher, "call-1", 10*time.Millisecond, newTestLogger())
	poller.Start(context.Background())
	defer poller.Stop()

	waitFor(t, func() bool { return poller.Snapshot() != nil })
	assert.Equal(t, 0, poller.ConsecutiveFailures())
}

func TestPoller_DiscardsInconsistentSnapshot(t *testing.T) {
	seq := int64(9)
	inconsistent := &coaching.Snapshot{
		LastSequence: 3,
		Coverage: map[string]*coaching.CoverageStatus{
			"height": {ItemID: "height", IsCovered: true, CoveredAtSequence: &seq},
		},
	}
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snapshot: snapshotAt(2)},
		{snapshot: inconsistent},
	}}
	poller := New(fetcher, "call-1", 10*time.Millisecond, newTestLogger())
	poller.Start(context.Background())
	defer poller.Stop()

	waitFor(t, func() bool { return poller.ConsecutiveFailures() >= 1 })

	snapshot := poller.Snapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, int64(2), snapshot.LastSequence)
}

func TestPoller_AutoScrollOnNewSegments(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snapshot: snapshotAt(3)},
	}}
	poller := New(fetcher, "call-1", 10*time.Millisecond, newTestLogger())
	poller.Start(context.Background())
	defer poller.Stop()

	waitFor(t, func() bool { return poller.Snapshot() != nil })

	assert.True(t, poller.ConsumeAutoScroll())
	// Consuming resets the flag; unchanged sequence does not re-arm it
	waitFor(t, func() bool { return fetcher.callCount() >= 3 })
	assert.False(t, poller.ConsumeAutoScroll())
}

func TestPoller_StopIsIdempotentAndDiscardsInFlight(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snapshot: snapshotAt(1)},
	}}
	poller := New(fetcher, "call-1", 10*time.Millisecond, newTestLogger())
	poller.Start(context.Background())

	waitFor(t, func() bool { return poller.Snapshot() != nil })

	poller.Stop()
	poller.Stop()

	// State remains readable after stop, and no further ticks run
	calls := fetcher.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount())
	assert.NotNil(t, poller.Snapshot())
}

func TestPoller_StartTwiceRunsOneLoop(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snapshot: snapshotAt(1)},
	}}
	poller := New(fetcher, "call-1", 10*time.Millisecond, newTestLogger())
	poller.Start(context.Background())
	poller.Start(context.Background())

	waitFor(t, func() bool { return poller.Snapshot() != nil })

	// A second loop would double the fetch rate; with the immediate fetch
	// plus two interval ticks we expect at most 3 calls from one loop.
	time.Sleep(25 * time.Millisecond)
	if calls := fetcher.callCount(); calls > 4 {
		t.Fatalf("too many fetches for one loop: %d", calls)
	}

	poller.Stop()
	assert.NotNil(t, poller.Snapshot())
}

func TestPoller_StopBeforeStart(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snapshot: snapshotAt(1)},
	}}
	poller := New(fetcher, "call-1", 10*time.Millisecond, newTestLogger())

	poller.Stop()
	poller.Start(context.Background())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, fetcher.callCount())
	assert.Nil(t, poller.Snapshot())
}

func TestPoller_SectionToggle(t *testing.T) {
	poller := New(&scriptedFetcher{results: []fetchResult{{snapshot: snapshotAt(1)}}},
		"call-1", time.Second, newTestLogger())

	assert.False(t, poller.IsExpanded("transcript"))
	assert.True(t, poller.ToggleSection("transcript"))
	assert.True(t, poller.IsExpanded("transcript"))
	assert.False(t, poller.ToggleSection("transcript"))
	assert.False(t, poller.IsExpanded("transcript"))

	// Sections are independent
	assert.True(t, poller.ToggleSection("prompts"))
	assert.False(t, poller.IsExpanded("transcript"))
}
