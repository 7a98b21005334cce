package coaching

import (
	"time"

	"coachcall-server/pkg/call"
)

// EventType defines the type of coaching event
type EventType string

const (
	EventTypeSessionStarted     EventType = "session_started"
	EventTypeSegmentAppended    EventType = "segment_appended"
	EventTypeItemCovered        EventType = "item_covered"
	EventTypePromptCreated      EventType = "prompt_created"
	EventTypePromptAcknowledged EventType = "prompt_acknowledged"
	EventTypeSessionEnded       EventType = "session_ended"
)

// Event represents a coaching engine event published to live observers
// (websocket hub, AMQP exchange)
type Event struct {
	Type      EventType `json:"type"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// EventData holds the event-specific payload
type EventData struct {
	Segment  *call.Segment `json:"segment,omitempty"`
	ItemID   string        `json:"item_id,omitempty"`
	Sequence int64         `json:"sequence,omitempty"`
	Prompt   *Prompt       `json:"prompt,omitempty"`
	Status   call.Status   `json:"status,omitempty"`
}

// Publisher receives coaching events. Implementations must not block the
// evaluation path.
type Publisher interface {
	PublishCoachingEvent(event Event)
}
