// Package events publishes notifications about recorded test results to an
// external broker so lab clients and dashboards can follow submissions.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andresaa/api-examen-conduccion/internal/model"
)

// TypeTestResultRecorded is emitted once per persisted test result.
const TypeTestResultRecorded = "test_result.recorded"

// Event is the JSON body published for every notification.
type Event struct {
	Type       string           `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	TestResult model.TestResult `json:"test_result"`
}

// RoutingKey derives the broker routing suffix for the event.
func (e Event) RoutingKey() string {
	return fmt.Sprintf("%s.%s", e.Type, e.TestResult.TestType)
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Options selects and configures a publisher.
type Options struct {
	Driver       string
	MQTTBroker   string
	MQTTTopic    string
	AMQPURL      string
	AMQPExchange string
	ClientID     string
}

// New builds the publisher named by opts.Driver: "none", "mqtt" or "amqp".
func New(opts Options, logger *slog.Logger) (Publisher, error) {
	switch opts.Driver {
	case "", "none":
		return Noop{}, nil
	case "mqtt":
		return NewMQTTPublisher(opts.MQTTBroker, opts.MQTTTopic, opts.ClientID, logger)
	case "amqp":
		return NewAMQPPublisher(opts.AMQPURL, opts.AMQPExchange)
	default:
		return nil, fmt.Errorf("unknown events driver %q", opts.Driver)
	}
}
