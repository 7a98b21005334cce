package coaching

import (
	"strings"
	"unicode"

	"coachcall-server/pkg/call"
	"coachcall-server/pkg/checklist"
	"coachcall-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// CoverageStatus tracks whether a checklist item has been covered during a
// call. Coverage is a one-way latch: once IsCovered is true it never reverts
// for that call.
type CoverageStatus struct {
	ItemID            string `json:"item_id"`
	IsCovered         bool   `json:"is_covered"`
	CoveredAtSequence *int64 `json:"covered_at_sequence,omitempty"`
}

// Clone returns a copy of the coverage status
func (c *CoverageStatus) Clone() *CoverageStatus {
	clone := *c
	if c.CoveredAtSequence != nil {
		seq := *c.CoveredAtSequence
		clone.CoveredAtSequence = &seq
	}
	return &clone
}

// Matcher decides, per checklist item, whether a call's transcript has
// covered it.
//
// Matching policy: case-insensitive. Plain single-word keywords match whole
// tokens of the segment text; keywords containing spaces or punctuation
// match as substrings of the lowercased text. No stemming. The policy is
// deliberately simple so that coverage is a pure function of the transcript
// prefix.
type Matcher struct {
	logger *logrus.Entry

	// matchKeyword tests one keyword against a prepared segment view
	matchKeyword func(view segmentView, keyword string) bool
}

// NewMatcher creates a coverage matcher
func NewMatcher(logger *logrus.Logger) *Matcher {
	return &Matcher{
		logger:       logger.WithField("component", "coverage_matcher"),
		matchKeyword: segmentView.contains,
	}
}

// Evaluate tests every not-yet-covered item against the given transcript
// segments and returns the updated coverage mapping. Already-covered items
// are never re-examined, which makes evaluation idempotent for a fixed
// transcript prefix: the caller may pass the full transcript or only the
// segments past its watermark with the same result.
//
// A matching failure for one item is isolated and never blocks evaluation of
// the others. Items with an empty keyword set are never auto-covered.
func (m *Matcher) Evaluate(items []*checklist.Item, segments []call.Segment, prior map[string]*CoverageStatus) map[string]*CoverageStatus {
	updated := make(map[string]*CoverageStatus, len(prior))
	for id, status := range prior {
		updated[id] = status
	}

	if len(segments) == 0 || len(items) == 0 {
		return updated
	}

	// Tokenize each segment once; every uncovered item scans the same views.
	views := make([]segmentView, len(segments))
	for i, segment := range segments {
		views[i] = newSegmentView(segment)
	}

	for _, item := range items {
		if status, ok := updated[item.ID]; ok && status.IsCovered {
			continue
		}
		if len(item.Keywords) == 0 {
			continue
		}

		coveredAt, covered := m.matchItem(item, views)
		if !covered {
			continue
		}

		seq := coveredAt
		updated[item.ID] = &CoverageStatus{
			ItemID:            item.ID,
			IsCovered:         true,
			CoveredAtSequence: &seq,
		}
	}

	return updated
}

// matchItem scans segments in order for the first keyword hit. Panics from a
// single item are recovered so the rest of the checklist still evaluates.
func (m *Matcher) matchItem(item *checklist.Item, views []segmentView) (sequence int64, covered bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{
				"item_id": item.ID,
				"panic":   r,
			}).Error("Coverage evaluation failed for checklist item")
			metrics.RecordEvaluationError()
			covered = false
		}
	}()

	for _, view := range views {
		for _, keyword := range item.Keywords {
			if m.matchKeyword(view, keyword) {
				return view.sequence, true
			}
		}
	}

	return 0, false
}

// segmentView is a segment prepared for matching: lowercased text plus its
// token set for whole-word keyword lookups
type segmentView struct {
	sequence int64
	lower    string
	tokens   map[string]bool
}

func newSegmentView(segment call.Segment) segmentView {
	lower := strings.ToLower(segment.Text)

	tokens := make(map[string]bool)
	for _, token := range strings.FieldsFunc(lower, isTokenBoundary) {
		tokens[token] = true
	}

	return segmentView{
		sequence: segment.Sequence,
		lower:    lower,
		tokens:   tokens,
	}
}

// contains reports whether the keyword appears in the segment. Keywords the
// tokenizer would split (phrases, and punctuated words like "4-foot") match
// as substrings of the lowercased text; plain single words must match a
// whole token.
func (v segmentView) contains(keyword string) bool {
	if strings.IndexFunc(keyword, isTokenBoundary) >= 0 {
		return strings.Contains(v.lower, keyword)
	}
	return v.tokens[keyword]
}

func isTokenBoundary(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
}
