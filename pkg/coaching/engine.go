package coaching

import (
	"context"
	"sync"
	"time"

	"coachcall-server/pkg/call"
	"coachcall-server/pkg/checklist"
	"coachcall-server/pkg/errors"
	"coachcall-server/pkg/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Archiver persists a finished call with its full coaching history
type Archiver interface {
	ArchiveCall(ctx context.Context, session *call.Session, segments []call.Segment, coverage map[string]*CoverageStatus, prompts []*Prompt) error
}

// Config holds engine tuning
type Config struct {
	MaxActivePrompts int
	SessionRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		MaxActivePrompts: 5,
		SessionRetention: time.Hour,
		CleanupInterval:  10 * time.Minute,
	}
}

// coachedCall is the per-call mutable state. Its mutex serializes
// append-and-evaluate for one call so the incremental matcher never
// re-scans; different calls evaluate fully independently.
type coachedCall struct {
	mu sync.Mutex

	session      *call.Session
	segments     []call.Segment
	nextSequence int64
	watermark    int64
	coverage     map[string]*CoverageStatus
	prompts      []*Prompt
	endedAt      time.Time
}

// Engine is the live call coaching engine. It owns every call session's
// transcript log, coverage state, and prompt queue, and re-evaluates
// coverage on each transcript append.
type Engine struct {
	logger    *logrus.Entry
	config    *Config
	checklist *checklist.Store
	matcher   *Matcher
	generator *Generator
	archiver  Archiver

	mutex sync.RWMutex
	calls map[string]*coachedCall

	// publishers receive engine events; delivery must not block evaluation
	publishers   []Publisher
	publisherMux sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewEngine creates a coaching engine
func NewEngine(store *checklist.Store, archiver Archiver, config *Config, logger *logrus.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}

	return &Engine{
		logger:    logger.WithField("component", "coaching_engine"),
		config:    config,
		checklist: store,
		matcher:   NewMatcher(logger),
		generator: NewGenerator(logger, config.MaxActivePrompts),
		archiver:  archiver,
		calls:     make(map[string]*coachedCall),
		stopChan:  make(chan struct{}),
	}
}

// AddPublisher registers an event publisher
func (e *Engine) AddPublisher(publisher Publisher) {
	e.publisherMux.Lock()
	defer e.publisherMux.Unlock()
	e.publishers = append(e.publishers, publisher)
}

func (e *Engine) publish(event Event) {
	e.publisherMux.RLock()
	defer e.publisherMux.RUnlock()
	for _, publisher := range e.publishers {
		publisher.PublishCoachingEvent(event)
	}
}

// StartCall registers a new call session in the ringing state. An empty id
// gets a generated one.
func (e *Engine) StartCall(id string) (*call.Session, error) {
	if id == "" {
		id = uuid.New().String()
	}

	e.mutex.Lock()
	if _, exists := e.calls[id]; exists {
		e.mutex.Unlock()
		return nil, errors.Wrap(errors.ErrAlreadyExists, "call session already exists",
			map[string]interface{}{"call_id": id})
	}

	session := &call.Session{
		ID:        id,
		Status:    call.StatusRinging,
		StartedAt: time.Now(),
	}
	e.calls[id] = &coachedCall{
		session:  session,
		coverage: make(map[string]*CoverageStatus),
	}
	e.mutex.Unlock()

	metrics.RecordCallStarted()
	e.logger.WithField("call_id", id).Info("Call session started")
	e.publish(Event{
		Type:      EventTypeSessionStarted,
		CallID:    id,
		Timestamp: time.Now(),
		Data:      EventData{Status: call.StatusRinging},
	})

	return session.Clone(), nil
}

// AppendSegment appends a transcript segment and runs one evaluation cycle:
// incremental coverage matching followed by prompt generation. Appends for
// the same call are serialized; the first segment moves a ringing call to
// in progress.
func (e *Engine) AppendSegment(callID string, speaker call.Speaker, text string) (*call.Segment, error) {
	if !speaker.IsValid() {
		return nil, errors.NewInvalidInput("unknown speaker",
			map[string]interface{}{"speaker": string(speaker)})
	}

	cc, err := e.lookup(callID)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if !cc.session.Status.IsLive() {
		return nil, errors.Wrap(errors.ErrCallCompleted, "cannot append to ended call",
			map[string]interface{}{"call_id": callID, "status": string(cc.session.Status)})
	}

	if cc.session.Status == call.StatusRinging {
		cc.session.Status = call.StatusInProgress
	}

	cc.nextSequence++
	segment := call.Segment{
		ID:        uuid.New().String(),
		CallID:    callID,
		Speaker:   speaker,
		Text:      text,
		Sequence:  cc.nextSequence,
		Timestamp: time.Now(),
	}
	cc.segments = append(cc.segments, segment)
	metrics.RecordSegment(string(speaker))

	e.evaluateLocked(cc)

	e.publish(Event{
		Type:      EventTypeSegmentAppended,
		CallID:    callID,
		Timestamp: time.Now(),
		Data:      EventData{Segment: &segment, Sequence: segment.Sequence},
	})

	return &segment, nil
}

// evaluateLocked runs one coverage-and-prompt cycle over the segments past
// the call's watermark. Caller must hold cc.mu.
func (e *Engine) evaluateLocked(cc *coachedCall) {
	done := metrics.ObserveEvaluation()
	defer done()

	newSegments := e.segmentsPastWatermark(cc)
	if len(newSegments) == 0 {
		return
	}

	items := e.checklist.ActiveItems()

	updated := e.matcher.Evaluate(items, newSegments, cc.coverage)
	for id, status := range updated {
		prior, had := cc.coverage[id]
		cc.coverage[id] = status
		if status.IsCovered && (!had || !prior.IsCovered) {
			metrics.RecordItemCovered()
			e.logger.WithFields(logrus.Fields{
				"call_id":  cc.session.ID,
				"item_id":  id,
				"sequence": *status.CoveredAtSequence,
			}).Debug("Checklist item covered")
			e.publish(Event{
				Type:      EventTypeItemCovered,
				CallID:    cc.session.ID,
				Timestamp: time.Now(),
				Data:      EventData{ItemID: id, Sequence: *status.CoveredAtSequence},
			})
		}
	}

	if prompt := e.generator.Generate(cc.session, items, cc.coverage, newSegments, cc.prompts); prompt != nil {
		cc.prompts = append(cc.prompts, prompt)
		metrics.RecordPromptGenerated("coverage_gap")
		e.publish(Event{
			Type:      EventTypePromptCreated,
			CallID:    cc.session.ID,
			Timestamp: time.Now(),
			Data:      EventData{Prompt: prompt.Clone()},
		})
	}

	cc.watermark = newSegments[len(newSegments)-1].Sequence
}

// segmentsPastWatermark returns the suffix of segments not yet evaluated
func (e *Engine) segmentsPastWatermark(cc *coachedCall) []call.Segment {
	for i := len(cc.segments) - 1; i >= 0; i-- {
		if cc.segments[i].Sequence <= cc.watermark {
			return cc.segments[i+1:]
		}
	}
	return cc.segments
}

// CompleteCall ends a call. Completion stops prompt generation but does not
// acknowledge outstanding prompts; only explicit acknowledgment removes them
// from active counts. The finished call is archived when an archiver is
// configured.
func (e *Engine) CompleteCall(ctx context.Context, callID string) (*call.Session, error) {
	return e.endCall(ctx, callID, call.StatusCompleted)
}

// FailCall marks a call as missed or failed
func (e *Engine) FailCall(ctx context.Context, callID string) (*call.Session, error) {
	return e.endCall(ctx, callID, call.StatusFailed)
}

func (e *Engine) endCall(ctx context.Context, callID string, status call.Status) (*call.Session, error) {
	cc, err := e.lookup(callID)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if !cc.session.Status.IsLive() {
		return nil, errors.Wrap(errors.ErrCallCompleted, "call already ended",
			map[string]interface{}{"call_id": callID})
	}

	now := time.Now()
	cc.session.Status = status
	cc.session.EndedAt = &now
	cc.endedAt = now

	metrics.RecordCallEnded(string(status))
	e.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"status":  string(status),
	}).Info("Call session ended")

	if e.archiver != nil {
		if err := e.archiver.ArchiveCall(ctx, cc.session, cc.segments, cc.coverage, cc.prompts); err != nil {
			// The live state stays authoritative; archival failure is logged,
			// not surfaced to the caller.
			e.logger.WithError(err).WithField("call_id", callID).Error("Failed to archive call")
		}
	}

	e.publish(Event{
		Type:      EventTypeSessionEnded,
		CallID:    callID,
		Timestamp: now,
		Data:      EventData{Status: status},
	})

	return cc.session.Clone(), nil
}

// AcknowledgePrompt marks a prompt as acknowledged. Acknowledging twice is a
// no-op; acknowledgment never reverts.
func (e *Engine) AcknowledgePrompt(callID, promptID string) (*Prompt, error) {
	cc, err := e.lookup(callID)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	for _, prompt := range cc.prompts {
		if prompt.ID != promptID {
			continue
		}
		if !prompt.WasAcknowledged {
			now := time.Now()
			prompt.WasAcknowledged = true
			prompt.AcknowledgedAt = &now
			metrics.RecordPromptAcknowledged()
			e.publish(Event{
				Type:      EventTypePromptAcknowledged,
				CallID:    callID,
				Timestamp: now,
				Data:      EventData{Prompt: prompt.Clone()},
			})
		}
		return prompt.Clone(), nil
	}

	return nil, errors.Wrap(errors.ErrPromptNotFound, "prompt not found",
		map[string]interface{}{"call_id": callID, "prompt_id": promptID})
}

// Snapshot returns an internally consistent view of a call's state
func (e *Engine) Snapshot(callID string) (*Snapshot, error) {
	cc, err := e.lookup(callID)
	if err != nil {
		return nil, err
	}

	items := e.checklist.ActiveItems()

	cc.mu.Lock()
	snapshot := buildSnapshot(cc.session, cc.segments, cc.coverage, cc.prompts, items, time.Now())
	cc.mu.Unlock()

	metrics.RecordSnapshotRead()
	return snapshot, nil
}

// Sessions returns copies of every known call session, live calls first
func (e *Engine) Sessions() []*call.Session {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	sessions := make([]*call.Session, 0, len(e.calls))
	for _, cc := range e.calls {
		cc.mu.Lock()
		sessions = append(sessions, cc.session.Clone())
		cc.mu.Unlock()
	}
	return sessions
}

// GetActiveCallCount returns the number of live call sessions
func (e *Engine) GetActiveCallCount() int {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	count := 0
	for _, cc := range e.calls {
		cc.mu.Lock()
		if cc.session.Status.IsLive() {
			count++
		}
		cc.mu.Unlock()
	}
	return count
}

// GetMetrics returns engine statistics for the status endpoint
func (e *Engine) GetMetrics() map[string]interface{} {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	total := len(e.calls)
	live := 0
	prompts := 0
	unacked := 0
	for _, cc := range e.calls {
		cc.mu.Lock()
		if cc.session.Status.IsLive() {
			live++
		}
		prompts += len(cc.prompts)
		for _, prompt := range cc.prompts {
			if !prompt.WasAcknowledged {
				unacked++
			}
		}
		cc.mu.Unlock()
	}

	return map[string]interface{}{
		"total_sessions":         total,
		"live_sessions":          live,
		"total_prompts":          prompts,
		"unacknowledged_prompts": unacked,
	}
}

// StartCleanup launches the background sweep evicting ended calls from the
// registry once their retention window has passed. Archived data is
// unaffected.
func (e *Engine) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.config.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopChan:
				return
			case <-ticker.C:
				e.sweep()
			}
		}
	}()
}

// Stop halts background work
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
}

func (e *Engine) sweep() {
	cutoff := time.Now().Add(-e.config.SessionRetention)

	e.mutex.Lock()
	defer e.mutex.Unlock()

	for id, cc := range e.calls {
		cc.mu.Lock()
		expired := !cc.session.Status.IsLive() && !cc.endedAt.IsZero() && cc.endedAt.Before(cutoff)
		cc.mu.Unlock()
		if expired {
			delete(e.calls, id)
			e.logger.WithField("call_id", id).Debug("Evicted ended call from registry")
		}
	}
}

func (e *Engine) lookup(callID string) (*coachedCall, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	cc, ok := e.calls[callID]
	if !ok {
		return nil, errors.NewCallNotFound(callID)
	}
	return cc, nil
}
