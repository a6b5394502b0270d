package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Subscriber runs one long-lived consumer connection per Subscribe call.
// Connection loss triggers reconnect with exponential backoff; after
// Config.MaxAttempts consecutive failures Subscribe returns a fatal error.
type Subscriber struct {
	cfg Config
	log *zap.Logger
}

var _ cbus.Subscriber = (*Subscriber)(nil)

func NewSubscriber(cfg Config, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{cfg: cfg, log: log}
}

// Subscribe declares the exchange and the durable named queue, binds the
// pattern, and blocks delivering messages one at a time until ctx is
// canceled. The in-flight handler always finishes before teardown.
func (s *Subscriber) Subscribe(ctx context.Context, sub cbus.Subscription, h cbus.Handler) error {
	if sub.Queue == "" || sub.Pattern == "" {
		return fmt.Errorf("rabbitmq subscribe: queue and pattern required: %w", perr.ErrSubscribeFailed)
	}

	backoff := newBackoff()
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.consumeOnce(ctx, sub, h)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		attempts++
		if s.cfg.MaxAttempts > 0 && attempts >= s.cfg.MaxAttempts {
			return fmt.Errorf("rabbitmq subscribe %s after %d attempts: %w",
				sub.Queue, attempts, errors.Join(perr.ErrBrokerUnavailable, err))
		}

		sleep := backoff.next()
		s.log.Warn("consumer connection lost, reconnecting",
			zap.String("queue", sub.Queue),
			zap.Duration("backoff", sleep),
			zap.Int("attempt", attempts),
			zap.Error(err))

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// consumeOnce holds a single connection for as long as it stays healthy.
// A nil return means ctx was canceled and the drain completed.
func (s *Subscriber) consumeOnce(ctx context.Context, sub cbus.Subscription, h cbus.Handler) error {
	conn, ch, err := dialAndDeclare(s.cfg)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() {
		_ = ch.Close()
		_ = conn.Close()
	}()

	if _, err := ch.QueueDeclare(sub.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", sub.Queue, err)
	}

	if err := ch.QueueBind(sub.Queue, sub.Pattern, event.Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind %s to %s: %w", sub.Queue, sub.Pattern, err)
	}

	// One unacked message at a time; handlers never run concurrently
	// within a consumer instance.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	deliveries, err := ch.Consume(sub.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", sub.Queue, err)
	}

	s.log.Info("consumer bound",
		zap.String("queue", sub.Queue),
		zap.String("pattern", sub.Pattern))

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cerr := <-notify:
			return fmt.Errorf("connection closed: %w", cerr)
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed: %w", perr.ErrBrokerUnavailable)
			}

			verdict := h(ctx, cbus.Delivery{RoutingKey: msg.RoutingKey, Body: msg.Body})
			switch verdict {
			case cbus.Ack:
				_ = msg.Ack(false)
			case cbus.Drop:
				_ = msg.Nack(false, false)
			}
		}
	}
}
