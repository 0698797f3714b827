package eventsvc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-fees/core"
	"github.com/trezcool/masomo-fees/core/fee"
)

// Event is a published event, as recorded by the log publisher.
type Event struct {
	RoutingKey string
	Body       json.RawMessage
}

// LogPublisher logs events instead of sending them to a broker, and keeps them in memory.
// It is used when no AMQP URL is configured, and in tests.
type LogPublisher struct {
	mu     sync.Mutex
	events []Event
	logger core.Logger
}

var _ fee.Publisher = (*LogPublisher)(nil) // interface compliance check

func NewLogPublisher(logger core.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshalling event")
	}

	p.mu.Lock()
	p.events = append(p.events, Event{RoutingKey: routingKey, Body: body})
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.Debug("event "+routingKey, string(body))
	}
	return nil
}

// Events returns the events published so far, oldest first.
func (p *LogPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func (p *LogPublisher) Close() error { return nil }
