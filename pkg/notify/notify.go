// Package notify publishes best-effort job lifecycle events.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"interviewprep/internal/util"
)

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Event describes a job reaching a terminal state.
type Event struct {
	Type        string    `json:"type"`
	JobID       string    `json:"jobId"`
	UserID      string    `json:"userId"`
	InterviewID string    `json:"interviewId"`
	JobType     string    `json:"jobType"`
	QAVersionID string    `json:"qaVersionId,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier delivers events. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier only logs events. Used when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, event Event) error {
	util.LoggerFromContext(ctx).Info("job_event", "type", event.Type, "job_id", event.JobID, "user_id", event.UserID)
	return nil
}

// AMQPNotifier publishes events to a topic exchange, routed by event type.
type AMQPNotifier struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "interviewprep.jobs"
	}
	n := &AMQPNotifier{url: url, exchange: exchange}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.connectLocked(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel == nil || n.channel.IsClosed() {
		if err := n.connectLocked(); err != nil {
			return err
		}
	}
	err = n.channel.PublishWithContext(ctx, n.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.JobID + ":" + event.Type,
		Timestamp:    event.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeLocked()
	return nil
}

func (n *AMQPNotifier) connectLocked() error {
	n.closeLocked()
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(n.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", n.exchange, err)
	}
	n.conn = conn
	n.channel = ch
	return nil
}

func (n *AMQPNotifier) closeLocked() {
	if n.channel != nil {
		_ = n.channel.Close()
		n.channel = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}

func encodeEvent(event Event) ([]byte, error) {
	if event.Type != EventJobCompleted && event.Type != EventJobFailed {
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}
	if strings.TrimSpace(event.JobID) == "" {
		return nil, errors.New("event job id required")
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	return json.Marshal(event)
}
