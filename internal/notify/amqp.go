package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/foxzi/wacampaign/internal/config"
)

// publisher is the subset of *amqp.Channel used for publishing
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes notifications as JSON to a topic exchange. The routing key
// is the configured prefix followed by the notification kind.
type AMQP struct {
	conn     *amqp.Connection
	ch       publisher
	exchange string
	prefix   string
	logger   *slog.Logger

	mu sync.Mutex
}

// DialAMQP connects to the broker and declares the exchange
func DialAMQP(cfg config.EventsConfig, logger *slog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	return newAMQP(conn, ch, cfg, logger), nil
}

func newAMQP(conn *amqp.Connection, ch publisher, cfg config.EventsConfig, logger *slog.Logger) *AMQP {
	return &AMQP{
		conn:     conn,
		ch:       ch,
		exchange: cfg.Exchange,
		prefix:   cfg.RoutingKey,
		logger:   logger.With("component", "amqp"),
	}
}

func (a *AMQP) Notify(ctx context.Context, n Notification) {
	body, err := json.Marshal(n)
	if err != nil {
		a.logger.Error("failed to marshal notification", "kind", n.Kind, "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	err = a.ch.Publish(
		a.exchange,
		a.routingKey(n.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    n.Time,
			Type:         string(n.Kind),
			Body:         body,
		},
	)
	if err != nil {
		a.logger.Error("failed to publish notification", "kind", n.Kind, "error", err)
	}
}

func (a *AMQP) routingKey(kind Kind) string {
	if a.prefix == "" {
		return string(kind)
	}
	return a.prefix + "." + string(kind)
}

// Close closes the channel and connection
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if a.ch != nil {
		err = a.ch.Close()
	}
	if a.conn != nil {
		if cerr := a.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
