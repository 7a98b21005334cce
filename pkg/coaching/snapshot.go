package coaching

import (
	"time"

	"coachcall-server/pkg/call"
	"coachcall-server/pkg/checklist"
	"coachcall-server/pkg/errors"
)

// Snapshot is an internally consistent read of a call's full coaching state:
// the session, its transcript, coverage per checklist item, prompts, and the
// derived progress metrics. Coverage always reflects a prefix of the
// returned transcript.
type Snapshot struct {
	Session  call.Session               `json:"session"`
	Segments []call.Segment             `json:"segments"`
	Coverage map[string]*CoverageStatus `json:"coverage"`
	Prompts  []*Prompt                  `json:"prompts"`

	// LastSequence is the highest transcript sequence included in Segments
	LastSequence int64     `json:"last_sequence"`
	TakenAt      time.Time `json:"taken_at"`

	// Derived metrics, computed at snapshot time
	CoveredCount         int     `json:"covered_count"`
	TotalActiveItems     int     `json:"total_active_items"`
	ProgressPercent      float64 `json:"progress_percent"`
	RequiredCoveredCount int     `json:"required_covered_count"`
	RequiredTotal        int     `json:"required_total"`
	ActivePromptCount    int     `json:"active_prompt_count"`

	// PrimaryPrompt is the oldest unacknowledged prompt, the single one a
	// coach panel force-surfaces; the rest are counted but not raised
	PrimaryPrompt *Prompt `json:"primary_prompt,omitempty"`

	// DurationDisplay is the elapsed call time rendered minutes:seconds
	DurationDisplay string `json:"duration_display"`
}

// buildSnapshot assembles a snapshot from the given call state. All slices
// and maps are deep-copied so the snapshot stays stable after the per-call
// lock is released.
func buildSnapshot(session *call.Session, segments []call.Segment, coverage map[string]*CoverageStatus, prompts []*Prompt, items []*checklist.Item, now time.Time) *Snapshot {
	snapshot := &Snapshot{
		Session:  *session.Clone(),
		Segments: make([]call.Segment, len(segments)),
		Coverage: make(map[string]*CoverageStatus, len(coverage)),
		Prompts:  make([]*Prompt, len(prompts)),
		TakenAt:  now,
	}
	copy(snapshot.Segments, segments)
	for id, status := range coverage {
		snapshot.Coverage[id] = status.Clone()
	}
	for i, prompt := range prompts {
		snapshot.Prompts[i] = prompt.Clone()
	}

	if len(segments) > 0 {
		snapshot.LastSequence = segments[len(segments)-1].Sequence
	}

	for _, item := range items {
		if !item.IsActive {
			continue
		}
		snapshot.TotalActiveItems++
		if item.IsRequired {
			snapshot.RequiredTotal++
		}

		status, ok := coverage[item.ID]
		if !ok || !status.IsCovered {
			continue
		}
		snapshot.CoveredCount++
		if item.IsRequired {
			snapshot.RequiredCoveredCount++
		}
	}

	if snapshot.TotalActiveItems > 0 {
		snapshot.ProgressPercent = float64(snapshot.CoveredCount) / float64(snapshot.TotalActiveItems) * 100
	}

	for _, prompt := range snapshot.Prompts {
		if prompt.WasAcknowledged {
			continue
		}
		snapshot.ActivePromptCount++
		if snapshot.PrimaryPrompt == nil {
			snapshot.PrimaryPrompt = prompt
		}
	}

	snapshot.DurationDisplay = call.FormatDuration(snapshot.Session.Duration(now))

	return snapshot
}

// ActivePrompts returns the unacknowledged prompts in creation order
func (s *Snapshot) ActivePrompts() []*Prompt {
	var active []*Prompt
	for _, prompt := range s.Prompts {
		if !prompt.WasAcknowledged {
			active = append(active, prompt)
		}
	}
	return active
}

// Validate checks the snapshot's internal consistency: every covered item
// must have latched at a sequence contained in the returned transcript. A
// violation means the snapshot mixed coverage with a transcript it does not
// correspond to and must be discarded rather than rendered.
func (s *Snapshot) Validate() error {
	for id, status := range s.Coverage {
		if !status.IsCovered {
			continue
		}
		if status.CoveredAtSequence == nil {
			return errors.Wrap(errors.ErrStaleSnapshot, "covered item missing sequence",
				map[string]interface{}{"item_id": id})
		}
		if *status.CoveredAtSequence > s.LastSequence {
			return errors.Wrap(errors.ErrStaleSnapshot, "coverage ahead of transcript",
				map[string]interface{}{
					"item_id":       id,
					"covered_at":    *status.CoveredAtSequence,
					"last_sequence": s.LastSequence,
				})
		}
	}
	return nil
}
