package eventsvc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/trezcool/masomo-fees/core"
	"github.com/trezcool/masomo-fees/core/fee"
)

const publishTimeout = 5 * time.Second

type amqpPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	appName  string
}

var _ fee.Publisher = (*amqpPublisher)(nil) // interface compliance check

// NewAMQPPublisher publishes fee events as persistent JSON messages on a durable topic exchange.
// Routing keys are the event names, e.g. "fee.assessed".
func NewAMQPPublisher(conf *core.Config) (*amqpPublisher, error) {
	conn, err := amqp.Dial(conf.AMQP.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dialing AMQP")
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "opening AMQP channel")
	}

	err = channel.ExchangeDeclare(
		conf.AMQP.Exchange, // name
		"topic",            // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declaring exchange")
	}

	return &amqpPublisher{
		conn:     conn,
		channel:  channel,
		exchange: conf.AMQP.Exchange,
		appName:  conf.AppName,
	}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshalling event")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			AppId:        p.appName,
			Type:         routingKey,
			Body:         body,
		},
	)
	return errors.Wrap(err, "publishing "+routingKey)
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
