package messaging

import (
	"testing"
	"time"

	"coachcall-server/pkg/coaching"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestClient() *AMQPClient {
	return NewAMQPClient(newTestLogger(), AMQPConfig{URL: "amqp://localhost:5672"})
}

// Publishing must never block evaluation, even with no broker connection
// and a full event queue.
func TestAMQPClient_PublishNeverBlocks(t *testing.T) {
	client := newTestClient()
	defer client.Close()

	finished := make(chan struct{})
	go func() {
		for i := 0; i < eventBufferSize*3; i++ {
			client.PublishCoachingEvent(coaching.Event{
				Type:      coaching.EventTypeItemCovered,
				CallID:    "call-1",
				Timestamp: time.Now(),
			})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with a full event queue")
	}
}

func TestAMQPClient_CloseStopsWorker(t *testing.T) {
	client := newTestClient()
	client.Close()

	select {
	case <-client.done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish worker did not stop on Close")
	}

	// Publishing after Close must still return promptly
	client.PublishCoachingEvent(coaching.Event{
		Type:      coaching.EventTypePromptCreated,
		CallID:    "call-1",
		Timestamp: time.Now(),
	})

	assert.NotPanics(t, func() { client.Close() })
	assert.False(t, client.IsConnected())
}
