package coaching

import (
	"testing"

	"coachcall-server/pkg/call"
	"coachcall-server/pkg/checklist"
	"coachcall-server/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testItem(id string, keywords ...string) *checklist.Item {
	return &checklist.Item{
		ID:       id,
		Question: "Did you ask about " + id + "?",
		Category: checklist.CategoryOther,
		Keywords: keywords,
		IsActive: true,
	}
}

func seg(sequence int64, text string) call.Segment {
	return call.Segment{
		CallID:   "call-1",
		Speaker:  call.SpeakerCustomer,
		Text:     text,
		Sequence: sequence,
	}
}

func TestMatcher_SingleWordMatchesWholeToken(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{testItem("height", "height", "tall")}

	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "What height fence are you thinking?"),
	}, nil)

	require.Contains(t, coverage, "height")
	assert.True(t, coverage["height"].IsCovered)
	require.NotNil(t, coverage["height"].CoveredAtSequence)
	assert.Equal(t, int64(1), *coverage["height"].CoveredAtSequence)
}

func TestMatcher_SingleWordDoesNotMatchInsideOtherWords(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{testItem("cost", "cost")}

	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "We use the costco lumber supplier"),
	}, nil)

	assert.Empty(t, coverage)
}

func TestMatcher_PhraseMatchesSubstring(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{testItem("line", "property line")}

	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "Is the fence going right on the PROPERTY LINE or inside it?"),
	}, nil)

	require.Contains(t, coverage, "line")
	assert.True(t, coverage["line"].IsCovered)
}

func TestMatcher_CaseInsensitive(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{testItem("gate", "gate")}

	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "DO YOU NEED A GATE?"),
	}, nil)

	assert.True(t, coverage["gate"].IsCovered)
}

func TestMatcher_CoverageLatchNeverReverts(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{testItem("height", "tall")}

	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "How tall should it be?"),
	}, nil)
	require.True(t, coverage["height"].IsCovered)
	require.Equal(t, int64(1), *coverage["height"].CoveredAtSequence)

	// Later segments never move the latch point
	coverage = matcher.Evaluate(items, []call.Segment{
		seg(2, "Something tall again"),
	}, coverage)

	assert.True(t, coverage["height"].IsCovered)
	assert.Equal(t, int64(1), *coverage["height"].CoveredAtSequence)
}

func TestMatcher_IdempotentForSamePrefix(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{
		testItem("height", "tall"),
		testItem("budget", "budget", "price"),
	}
	segments := []call.Segment{
		seg(1, "I want something six feet tall"),
		seg(2, "and my budget is around five thousand"),
	}

	first := matcher.Evaluate(items, segments, nil)
	second := matcher.Evaluate(items, segments, first)

	require.Len(t, second, 2)
	for id, status := range second {
		assert.Equal(t, first[id].IsCovered, status.IsCovered)
		assert.Equal(t, *first[id].CoveredAtSequence, *status.CoveredAtSequence)
	}
}

func TestMatcher_FirstMatchingSequenceWins(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{testItem("budget", "price")}

	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "no hit here"),
		seg(2, "what's the price?"),
		seg(3, "price again"),
	}, nil)

	require.True(t, coverage["budget"].IsCovered)
	assert.Equal(t, int64(2), *coverage["budget"].CoveredAtSequence)
}

func TestMatcher_EmptyKeywordsNeverCovered(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{testItem("notes")}

	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "anything at all"),
	}, nil)

	assert.NotContains(t, coverage, "notes")
}

func TestMatcher_EmptyTranscriptKeepsPrior(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{testItem("height", "tall")}

	prior := matcher.Evaluate(items, []call.Segment{seg(1, "pretty tall")}, nil)
	coverage := matcher.Evaluate(items, nil, prior)

	require.Contains(t, coverage, "height")
	assert.True(t, coverage["height"].IsCovered)
}

func TestMatcher_MultipleItemsOneSegment(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{
		testItem("height", "tall"),
		testItem("material", "cedar", "vinyl"),
		testItem("timeline", "before", "deadline"),
	}

	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "I'd like a tall cedar fence before summer"),
	}, nil)

	assert.True(t, coverage["height"].IsCovered)
	assert.True(t, coverage["material"].IsCovered)
	assert.True(t, coverage["timeline"].IsCovered)
}

func TestMatcher_PunctuatedKeywordMatchesAsSubstring(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{
		testItem("height", "4-foot"),
		testItem("material", "chain-link"),
	}

	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "Probably a 4-FOOT chain-link fence"),
	}, nil)

	assert.True(t, coverage["height"].IsCovered)
	assert.True(t, coverage["material"].IsCovered)
}

func TestMatcher_FailingItemDoesNotBlockOthers(t *testing.T) {
	metrics.Init(newTestLogger())

	matcher := NewMatcher(newTestLogger())
	fallback := matcher.matchKeyword
	matcher.matchKeyword = func(view segmentView, keyword string) bool {
		if keyword == "permit" {
			panic("bad pattern")
		}
		return fallback(view, keyword)
	}

	items := []*checklist.Item{
		testItem("height", "tall"),
		testItem("site", "permit"),
		testItem("budget", "price"),
	}

	errorsBefore := testutil.ToFloat64(metrics.EvaluationErrors)
	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "a tall fence, what's the price, and do we need a permit?"),
	}, nil)

	// The faulty item is skipped; every other item still evaluates
	require.Contains(t, coverage, "height")
	assert.True(t, coverage["height"].IsCovered)
	require.Contains(t, coverage, "budget")
	assert.True(t, coverage["budget"].IsCovered)
	assert.NotContains(t, coverage, "site")
	assert.Equal(t, errorsBefore+1, testutil.ToFloat64(metrics.EvaluationErrors))

	// A later clean evaluation can still cover the previously failing item
	matcher.matchKeyword = fallback
	coverage = matcher.Evaluate(items, []call.Segment{
		seg(2, "yes, you'll need a permit"),
	}, coverage)
	assert.True(t, coverage["site"].IsCovered)
}

func TestMatcher_ApostropheKeptInTokens(t *testing.T) {
	matcher := NewMatcher(newTestLogger())
	items := []*checklist.Item{testItem("budget", "what's")}

	coverage := matcher.Evaluate(items, []call.Segment{
		seg(1, "What's this going to run me?"),
	}, nil)

	assert.True(t, coverage["budget"].IsCovered)
}
