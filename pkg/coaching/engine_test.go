package coaching

import (
	"context"
	"sync"
	"testing"
	"time"

	"coachcall-server/pkg/call"
	"coachcall-server/pkg/checklist"
	apperrors "coachcall-server/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingArchiver captures the state handed to ArchiveCall
type recordingArchiver struct {
	mu       sync.Mutex
	sessions []*call.Session
	segments int
	prompts  int
}

func (a *recordingArchiver) ArchiveCall(ctx context.Context, session *call.Session, segments []call.Segment, coverage map[string]*CoverageStatus, prompts []*Prompt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, session.Clone())
	a.segments += len(segments)
	a.prompts += len(prompts)
	return nil
}

func newTestEngine(t *testing.T, items ...*checklist.Item) *Engine {
	t.Helper()

	logger := newTestLogger()
	store, err := checklist.NewStore(nil, logger)
	require.NoError(t, err)
	for _, item := range items {
		_, err := store.Create(context.Background(), item)
		require.NoError(t, err)
	}

	return NewEngine(store, nil, DefaultConfig(), logger)
}

func storeItem(id string, required bool, keywords ...string) *checklist.Item {
	return &checklist.Item{
		ID:         id,
		Question:   "Ask about " + id,
		Category:   checklist.CategoryRequirements,
		Keywords:   keywords,
		IsRequired: required,
		IsActive:   true,
	}
}

func TestEngine_StartCall(t *testing.T) {
	engine := newTestEngine(t)

	session, err := engine.StartCall("call-1")
	require.NoError(t, err)
	assert.Equal(t, "call-1", session.ID)
	assert.Equal(t, call.StatusRinging, session.Status)

	// Duplicate ids are rejected
	_, err = engine.StartCall("call-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrAlreadyExists))

	// Empty id gets generated
	generated, err := engine.StartCall("")
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}

func TestEngine_AppendSegment(t *testing.T) {
	engine := newTestEngine(t, storeItem("height", true, "tall"))

	_, err := engine.StartCall("call-1")
	require.NoError(t, err)

	first, err := engine.AppendSegment("call-1", call.SpeakerStaff, "Thanks for calling")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Sequence)

	second, err := engine.AppendSegment("call-1", call.SpeakerCustomer, "I need a tall fence")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)

	snapshot, err := engine.Snapshot("call-1")
	require.NoError(t, err)
	assert.Equal(t, call.StatusInProgress, snapshot.Session.Status)
	require.Contains(t, snapshot.Coverage, "height")
	assert.True(t, snapshot.Coverage["height"].IsCovered)
	assert.Equal(t, int64(2), *snapshot.Coverage["height"].CoveredAtSequence)
}

func TestEngine_AppendSegmentValidation(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.AppendSegment("missing", call.SpeakerStaff, "hello")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrCallNotFound))

	_, err = engine.StartCall("call-1")
	require.NoError(t, err)

	_, err = engine.AppendSegment("call-1", call.Speaker("narrator"), "hello")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrInvalidInput))
}

func TestEngine_CompleteCallStopsIngestion(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.StartCall("call-1")
	require.NoError(t, err)
	_, err = engine.AppendSegment("call-1", call.SpeakerStaff, "hello")
	require.NoError(t, err)

	session, err := engine.CompleteCall(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, call.StatusCompleted, session.Status)
	require.NotNil(t, session.EndedAt)

	_, err = engine.AppendSegment("call-1", call.SpeakerStaff, "too late")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrCallCompleted))

	_, err = engine.CompleteCall(context.Background(), "call-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrCallCompleted))

	// The snapshot remains readable after completion
	snapshot, err := engine.Snapshot("call-1")
	require.NoError(t, err)
	assert.Equal(t, call.StatusCompleted, snapshot.Session.Status)
	assert.Len(t, snapshot.Segments, 1)
}

func TestEngine_CompletionDoesNotAcknowledgePrompts(t *testing.T) {
	engine := newTestEngine(t, storeItem("height", true, "tall"))

	_, err := engine.StartCall("call-1")
	require.NoError(t, err)
	_, err = engine.AppendSegment("call-1", call.SpeakerCustomer, "no keyword here")
	require.NoError(t, err)

	before, err := engine.Snapshot("call-1")
	require.NoError(t, err)
	require.Equal(t, 1, before.ActivePromptCount)

	_, err = engine.CompleteCall(context.Background(), "call-1")
	require.NoError(t, err)

	after, err := engine.Snapshot("call-1")
	require.NoError(t, err)
	assert.Equal(t, 1, after.ActivePromptCount)

	// Explicit acknowledgment still works on the ended call
	_, err = engine.AcknowledgePrompt("call-1", after.PrimaryPrompt.ID)
	require.NoError(t, err)

	final, err := engine.Snapshot("call-1")
	require.NoError(t, err)
	assert.Equal(t, 0, final.ActivePromptCount)
}

func TestEngine_AcknowledgePrompt(t *testing.T) {
	engine := newTestEngine(t, storeItem("height", true, "tall"))

	_, err := engine.StartCall("call-1")
	require.NoError(t, err)
	_, err = engine.AppendSegment("call-1", call.SpeakerCustomer, "hello there")
	require.NoError(t, err)

	snapshot, err := engine.Snapshot("call-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot.PrimaryPrompt)
	promptID := snapshot.PrimaryPrompt.ID

	acked, err := engine.AcknowledgePrompt("call-1", promptID)
	require.NoError(t, err)
	assert.True(t, acked.WasAcknowledged)
	require.NotNil(t, acked.AcknowledgedAt)
	firstAck := *acked.AcknowledgedAt

	// Re-acknowledging is a no-op and keeps the original timestamp
	again, err := engine.AcknowledgePrompt("call-1", promptID)
	require.NoError(t, err)
	assert.True(t, again.WasAcknowledged)
	assert.Equal(t, firstAck, *again.AcknowledgedAt)

	_, err = engine.AcknowledgePrompt("call-1", "no-such-prompt")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrPromptNotFound))
}

func TestEngine_SnapshotMetrics(t *testing.T) {
	engine := newTestEngine(t,
		storeItem("height", true, "tall"),
		storeItem("budget", true, "price"),
		storeItem("extras", false, "gate"),
	)

	_, err := engine.StartCall("call-1")
	require.NoError(t, err)
	_, err = engine.AppendSegment("call-1", call.SpeakerCustomer, "something six feet tall")
	require.NoError(t, err)

	snapshot, err := engine.Snapshot("call-1")
	require.NoError(t, err)

	assert.Equal(t, 3, snapshot.TotalActiveItems)
	assert.Equal(t, 1, snapshot.CoveredCount)
	assert.Equal(t, 2, snapshot.RequiredTotal)
	assert.Equal(t, 1, snapshot.RequiredCoveredCount)
	assert.InDelta(t, 33.3, snapshot.ProgressPercent, 0.1)
	assert.Equal(t, int64(1), snapshot.LastSequence)
	require.NoError(t, snapshot.Validate())
}

func TestEngine_SnapshotWithNoActiveItems(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.StartCall("call-1")
	require.NoError(t, err)
	_, err = engine.AppendSegment("call-1", call.SpeakerStaff, "hello")
	require.NoError(t, err)

	snapshot, err := engine.Snapshot("call-1")
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.TotalActiveItems)
	assert.Equal(t, float64(0), snapshot.ProgressPercent)
}

func TestEngine_SnapshotIsolatedFromLaterWrites(t *testing.T) {
	engine := newTestEngine(t, storeItem("height", true, "tall"))

	_, err := engine.StartCall("call-1")
	require.NoError(t, err)
	_, err = engine.AppendSegment("call-1", call.SpeakerStaff, "hello")
	require.NoError(t, err)

	snapshot, err := engine.Snapshot("call-1")
	require.NoError(t, err)

	_, err = engine.AppendSegment("call-1", call.SpeakerCustomer, "make it tall")
	require.NoError(t, err)

	// The earlier snapshot still reflects its own transcript prefix
	assert.Len(t, snapshot.Segments, 1)
	assert.Equal(t, int64(1), snapshot.LastSequence)
	require.NoError(t, snapshot.Validate())
}

func TestEngine_ConcurrentAppendsKeepSequencesDense(t *testing.T) {
	engine := newTestEngine(t, storeItem("height", true, "tall"))

	_, err := engine.StartCall("call-1")
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := engine.AppendSegment("call-1", call.SpeakerCustomer, "a tall order")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	snapshot, err := engine.Snapshot("call-1")
	require.NoError(t, err)
	require.Len(t, snapshot.Segments, writers*perWriter)
	for i, segment := range snapshot.Segments {
		assert.Equal(t, int64(i+1), segment.Sequence)
	}
	require.NoError(t, snapshot.Validate())
}

func TestEngine_ArchivesOnCompletion(t *testing.T) {
	logger := newTestLogger()
	store, err := checklist.NewStore(nil, logger)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), storeItem("height", true, "tall"))
	require.NoError(t, err)

	archiver := &recordingArchiver{}
	engine := NewEngine(store, archiver, DefaultConfig(), logger)

	_, err = engine.StartCall("call-1")
	require.NoError(t, err)
	_, err = engine.AppendSegment("call-1", call.SpeakerCustomer, "nothing relevant")
	require.NoError(t, err)

	_, err = engine.CompleteCall(context.Background(), "call-1")
	require.NoError(t, err)

	require.Len(t, archiver.sessions, 1)
	assert.Equal(t, call.StatusCompleted, archiver.sessions[0].Status)
	assert.Equal(t, 1, archiver.segments)
	assert.Equal(t, 1, archiver.prompts)
}

func TestEngine_SweepEvictsEndedCalls(t *testing.T) {
	logger := newTestLogger()
	store, err := checklist.NewStore(nil, logger)
	require.NoError(t, err)

	engine := NewEngine(store, nil, &Config{
		MaxActivePrompts: 5,
		SessionRetention: 10 * time.Millisecond,
		CleanupInterval:  time.Hour,
	}, logger)

	_, err = engine.StartCall("ended")
	require.NoError(t, err)
	_, err = engine.CompleteCall(context.Background(), "ended")
	require.NoError(t, err)

	_, err = engine.StartCall("live")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	engine.sweep()

	_, err = engine.Snapshot("ended")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrCallNotFound))

	_, err = engine.Snapshot("live")
	assert.NoError(t, err)
}

func TestEngine_IndependentCalls(t *testing.T) {
	engine := newTestEngine(t, storeItem("height", true, "tall"))

	_, err := engine.StartCall("call-a")
	require.NoError(t, err)
	_, err = engine.StartCall("call-b")
	require.NoError(t, err)

	_, err = engine.AppendSegment("call-a", call.SpeakerCustomer, "a tall one please")
	require.NoError(t, err)

	a, err := engine.Snapshot("call-a")
	require.NoError(t, err)
	b, err := engine.Snapshot("call-b")
	require.NoError(t, err)

	assert.True(t, a.Coverage["height"].IsCovered)
	assert.NotContains(t, b.Coverage, "height")
	assert.Equal(t, 2, engine.GetActiveCallCount())
}
