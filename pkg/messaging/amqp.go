package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"coachcall-server/pkg/coaching"
	"coachcall-server/pkg/metrics"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// eventBufferSize bounds the publish queue; events beyond it are dropped
const eventBufferSize = 64

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL          string
	ExchangeName string
	RoutingKey   string
	Durable      bool
}

// AMQPClient publishes coaching events to an AMQP exchange so downstream
// consumers (reporting, CRM sync) can react to calls without polling the
// engine. Publishing is best effort and decoupled from evaluation: events
// go through a bounded queue drained by a worker goroutine, and a broker
// outage or full queue drops events rather than blocking the caller.
type AMQPClient struct {
	logger    *logrus.Entry
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex

	events   chan coaching.Event
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewAMQPClient creates a new AMQP client and starts its publish worker
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.ExchangeName == "" {
		config.ExchangeName = "coaching.events"
	}
	if config.RoutingKey == "" {
		config.RoutingKey = "coaching"
	}
	config.Durable = true

	client := &AMQPClient{
		logger: logger.WithField("component", "amqp_client"),
		config: config,
		events: make(chan coaching.Event, eventBufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go client.publishLoop()
	return client
}

// Connect establishes a connection to the AMQP server and declares the
// exchange
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if c.config.URL == "" {
		return fmt.Errorf("AMQP URL not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	select {
	case <-ctx.Done():
		return fmt.Errorf("AMQP connection timed out")
	case result := <-connChan:
		if result.err != nil {
			return fmt.Errorf("failed to connect to AMQP server: %w", result.err)
		}
		conn = result.conn
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		c.config.ExchangeName,
		"topic",
		c.config.Durable,
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.connected = true

	c.logger.WithFields(logrus.Fields{
		"exchange":    c.config.ExchangeName,
		"routing_key": c.config.RoutingKey,
	}).Info("Connected to AMQP server")

	return nil
}

// IsConnected reports whether the client has a live connection
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishCoachingEvent implements coaching.Publisher. The event is queued
// for the publish worker and never blocks; if the queue is full the event
// is dropped.
func (c *AMQPClient) PublishCoachingEvent(event coaching.Event) {
	select {
	case c.events <- event:
	case <-c.stop:
		metrics.RecordAMQPPublish(string(event.Type), "skipped")
	default:
		c.logger.WithField("event_type", event.Type).Warn("AMQP event queue full, dropping event")
		metrics.RecordAMQPPublish(string(event.Type), "dropped")
	}
}

// publishLoop drains the event queue until Close is called
func (c *AMQPClient) publishLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case event := <-c.events:
			c.deliver(event)
		}
	}
}

// deliver performs the broker write for one event, routed as
// <routing_key>.<event_type>.
func (c *AMQPClient) deliver(event coaching.Event) {
	c.connMutex.RLock()
	channel := c.channel
	connected := c.connected
	c.connMutex.RUnlock()

	if !connected {
		metrics.RecordAMQPPublish(string(event.Type), "skipped")
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		c.logger.WithError(err).Error("Failed to encode coaching event")
		metrics.RecordAMQPPublish(string(event.Type), "error")
		return
	}

	routingKey := fmt.Sprintf("%s.%s", c.config.RoutingKey, event.Type)
	err = channel.Publish(
		c.config.ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    event.Timestamp,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		c.logger.WithError(err).WithField("event_type", event.Type).Error("Failed to publish coaching event")
		metrics.RecordAMQPPublish(string(event.Type), "error")
		c.markDisconnected()
		return
	}

	metrics.RecordAMQPPublish(string(event.Type), "success")
}

func (c *AMQPClient) markDisconnected() {
	c.connMutex.Lock()
	c.connected = false
	c.connMutex.Unlock()
}

// Close stops the publish worker and shuts down the AMQP connection.
// Queued events that have not been delivered yet are discarded. Safe to
// call more than once.
func (c *AMQPClient) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	<-c.done

	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.logger.Info("AMQP connection closed")
}
