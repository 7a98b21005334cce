package coaching

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"coachcall-server/pkg/call"
	"coachcall-server/pkg/checklist"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Prompt is a generated coaching suggestion tied to a call, optionally
// referencing a checklist item. Acknowledgment is terminal: once
// WasAcknowledged is set, the prompt is excluded from active counts for the
// rest of the call.
type Prompt struct {
	ID                string     `json:"id"`
	CallID            string     `json:"call_id"`
	Message           string     `json:"message"`
	RelatedItemID     string     `json:"related_item_id,omitempty"`
	CreatedAtSequence int64      `json:"created_at_sequence"`
	WasAcknowledged   bool       `json:"was_acknowledged"`
	CreatedAt         time.Time  `json:"created_at"`
	AcknowledgedAt    *time.Time `json:"acknowledged_at,omitempty"`
}

// Clone returns a copy of the prompt
func (p *Prompt) Clone() *Prompt {
	clone := *p
	if p.AcknowledgedAt != nil {
		acked := *p.AcknowledgedAt
		clone.AcknowledgedAt = &acked
	}
	return &clone
}

// Generator derives at most one new coaching prompt per evaluation cycle
// from uncovered checklist items and live conversational signals.
type Generator struct {
	logger    *logrus.Entry
	maxActive int

	// objectionSignals map customer phrasing to checklist categories so a
	// raised concern can surface the matching uncovered topic first
	objectionSignals map[checklist.Category][]string
}

// NewGenerator creates a prompt generator. maxActive caps the number of
// unacknowledged prompts per call before generation pauses.
func NewGenerator(logger *logrus.Logger, maxActive int) *Generator {
	if maxActive < 1 {
		maxActive = 1
	}

	return &Generator{
		logger:    logger.WithField("component", "prompt_generator"),
		maxActive: maxActive,
		objectionSignals: map[checklist.Category][]string{
			checklist.CategoryBudget: {
				"expensive", "too much", "cheaper", "afford", "out of my price",
				"what does it cost", "how much",
			},
			checklist.CategoryTimeline: {
				"how long", "how soon", "when can you", "take forever", "in a hurry",
			},
			checklist.CategorySiteConditions: {
				"slope", "property line", "hoa", "permit", "utility", "underground",
			},
			checklist.CategoryRequirements: {
				"not sure", "what kind", "difference between", "which one",
			},
		},
	}
}

// Generate returns zero or one new prompt for the call.
//
// Prompts are only produced while the call is ringing or in progress.
// Candidate priority: (1) required uncovered items in a category the
// customer just raised a concern about, (2) required uncovered items,
// (3) optional uncovered items, considered only when no required gap
// remains. An item already referenced by an unacknowledged prompt is
// suppressed, so at most one outstanding prompt exists per item per call.
func (g *Generator) Generate(session *call.Session, items []*checklist.Item, coverage map[string]*CoverageStatus, newSegments []call.Segment, existing []*Prompt) *Prompt {
	if session == nil || !session.Status.IsLive() {
		return nil
	}

	activeCount := 0
	blocked := make(map[string]bool)
	for _, prompt := range existing {
		if prompt.WasAcknowledged {
			continue
		}
		activeCount++
		if prompt.RelatedItemID != "" {
			blocked[prompt.RelatedItemID] = true
		}
	}
	if activeCount >= g.maxActive {
		return nil
	}

	var requiredGaps, optionalGaps []*checklist.Item
	for _, item := range items {
		if !item.IsActive {
			continue
		}
		if status, ok := coverage[item.ID]; ok && status.IsCovered {
			continue
		}
		if item.IsRequired {
			requiredGaps = append(requiredGaps, item)
		} else {
			optionalGaps = append(optionalGaps, item)
		}
	}
	sortByDisplayOrder(requiredGaps)
	sortByDisplayOrder(optionalGaps)

	lastSequence := int64(0)
	if len(newSegments) > 0 {
		lastSequence = newSegments[len(newSegments)-1].Sequence
	}

	// Priority 1: the customer raised a concern matching an uncovered
	// required topic's category.
	raised := g.raisedCategories(newSegments)
	for _, item := range requiredGaps {
		if blocked[item.ID] || !raised[item.Category] {
			continue
		}
		return g.newPrompt(session.ID, item, lastSequence, true)
	}

	// Priority 2: any required gap.
	for _, item := range requiredGaps {
		if blocked[item.ID] {
			continue
		}
		return g.newPrompt(session.ID, item, lastSequence, false)
	}

	// Optional topics only once every required item is covered.
	if len(requiredGaps) > 0 {
		return nil
	}
	for _, item := range optionalGaps {
		if blocked[item.ID] {
			continue
		}
		return g.newPrompt(session.ID, item, lastSequence, false)
	}

	return nil
}

// raisedCategories scans new customer segments for objection signals
func (g *Generator) raisedCategories(segments []call.Segment) map[checklist.Category]bool {
	raised := make(map[checklist.Category]bool)

	for _, segment := range segments {
		if segment.Speaker != call.SpeakerCustomer {
			continue
		}
		lower := strings.ToLower(segment.Text)
		for category, signals := range g.objectionSignals {
			if raised[category] {
				continue
			}
			for _, signal := range signals {
				if strings.Contains(lower, signal) {
					raised[category] = true
					break
				}
			}
		}
	}

	return raised
}

func (g *Generator) newPrompt(callID string, item *checklist.Item, sequence int64, objection bool) *Prompt {
	var message string
	if objection {
		message = fmt.Sprintf("Customer raised a %s concern. Cover: %s", categoryLabel(item.Category), item.Question)
	} else {
		message = fmt.Sprintf("Still to cover: %s", item.Question)
	}
	if item.SuggestedResponse != "" {
		message += " Suggested response: " + item.SuggestedResponse
	}

	prompt := &Prompt{
		ID:                uuid.New().String(),
		CallID:            callID,
		Message:           message,
		RelatedItemID:     item.ID,
		CreatedAtSequence: sequence,
		CreatedAt:         time.Now(),
	}

	g.logger.WithFields(logrus.Fields{
		"call_id":   callID,
		"item_id":   item.ID,
		"objection": objection,
	}).Debug("Coaching prompt generated")

	return prompt
}

func categoryLabel(c checklist.Category) string {
	return strings.ReplaceAll(string(c), "_", " ")
}

func sortByDisplayOrder(items []*checklist.Item) {
	sort.Slice(items, func(a, b int) bool {
		return items[a].DisplayOrder < items[b].DisplayOrder
	})
}
