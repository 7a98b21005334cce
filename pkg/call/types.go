package call

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a call session
type Status string

const (
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsLive reports whether the call can still receive transcript segments
// and coaching prompts
func (s Status) IsLive() bool {
	return s == StatusRinging || s == StatusInProgress
}

// Speaker identifies who produced a transcript segment
type Speaker string

const (
	SpeakerStaff    Speaker = "staff"
	SpeakerCustomer Speaker = "customer"
)

// IsValid reports whether the speaker is one of the known values
func (sp Speaker) IsValid() bool {
	return sp == SpeakerStaff || sp == SpeakerCustomer
}

// Session represents one telephone call. A session is immutable once
// completed.
type Session struct {
	ID        string     `json:"id" db:"id"`
	Status    Status     `json:"status" db:"status"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Clone returns a copy of the session
func (s *Session) Clone() *Session {
	clone := *s
	if s.EndedAt != nil {
		ended := *s.EndedAt
		clone.EndedAt = &ended
	}
	return &clone
}

// Duration returns the elapsed call time, floored to whole seconds. A
// session with a zero start time has zero duration.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	elapsed := end.Sub(s.StartedAt)
	if elapsed < 0 {
		return 0
	}
	return elapsed.Truncate(time.Second)
}

// FormatDuration renders a duration as minutes:seconds with seconds
// zero-padded to two digits
func FormatDuration(d time.Duration) string {
	total := int64(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// Segment represents one transcript entry. Segments belong to exactly one
// call, are ordered by a per-call monotonic sequence, and are never edited
// or removed once appended.
type Segment struct {
	ID        string    `json:"id" db:"id"`
	CallID    string    `json:"call_id" db:"call_id"`
	Speaker   Speaker   `json:"speaker" db:"speaker"`
	Text      string    `json:"text" db:"text"`
	Sequence  int64     `json:"sequence" db:"sequence"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}
