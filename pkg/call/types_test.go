package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus_IsLive(t *testing.T) {
	assert.True(t, StatusRinging.IsLive())
	assert.True(t, StatusInProgress.IsLive())
	assert.False(t, StatusCompleted.IsLive())
	assert.False(t, StatusFailed.IsLive())
	assert.False(t, Status("unknown").IsLive())
}

func TestSpeaker_IsValid(t *testing.T) {
	assert.True(t, SpeakerStaff.IsValid())
	assert.True(t, SpeakerCustomer.IsValid())
	assert.False(t, Speaker("narrator").IsValid())
	assert.False(t, Speaker("").IsValid())
}

func TestSession_Duration(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 5, 30, 500_000_000, time.UTC)

	session := &Session{StartedAt: now.Add(-95 * time.Second)}
	assert.Equal(t, 95*time.Second, session.Duration(now))

	// Ended sessions stop accruing time
	ended := now.Add(-30 * time.Second)
	session.EndedAt = &ended
	assert.Equal(t, 65*time.Second, session.Duration(now))

	// Zero start means zero duration
	blank := &Session{}
	assert.Equal(t, time.Duration(0), blank.Duration(now))

	// Clock skew never yields a negative duration
	future := &Session{StartedAt: now.Add(time.Minute)}
	assert.Equal(t, time.Duration(0), future.Duration(now))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00", FormatDuration(0))
	assert.Equal(t, "0:05", FormatDuration(5*time.Second))
	assert.Equal(t, "1:05", FormatDuration(65*time.Second))
	assert.Equal(t, "12:34", FormatDuration(12*time.Minute+34*time.Second))
	assert.Equal(t, "60:00", FormatDuration(time.Hour))
}

func TestSession_Clone(t *testing.T) {
	ended := time.Now()
	session := &Session{ID: "c1", Status: StatusCompleted, EndedAt: &ended}

	clone := session.Clone()
	*clone.EndedAt = clone.EndedAt.Add(time.Hour)
	clone.Status = StatusFailed

	assert.Equal(t, StatusCompleted, session.Status)
	assert.Equal(t, ended, *session.EndedAt)
}
