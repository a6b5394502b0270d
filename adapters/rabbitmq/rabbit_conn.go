package rabbitmq

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/parceltrack/parcel-platform/contract/event"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Concrete AMQP connection-backed publisher with auto-reconnect.

type Config struct {
	URL         string
	ConnTimeout time.Duration
	// MaxAttempts bounds consecutive failed subscribe (re)connection
	// attempts before Subscribe gives up. Zero means unbounded.
	MaxAttempts int
}

type reconnectingPublisher struct {
	cfg    Config
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed when a channel is ready
}

func newReconnectingPublisher(cfg Config) (*reconnectingPublisher, func()) {
	rp := &reconnectingPublisher{
		cfg:    cfg,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go rp.run()
	cleanup := func() { rp.close() }
	return rp, cleanup
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	rp.mu.RLock()
	ch := rp.ch
	rp.mu.RUnlock()
	if ch == nil {
		// Wait for readiness or context cancellation
		select {
		case <-rp.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		rp.mu.RLock()
		ch = rp.ch
		rp.mu.RUnlock()
		if ch == nil {
			return fmt.Errorf("%w: rabbitmq not connected", perr.ErrBrokerUnavailable)
		}
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         m.Body,
		},
	)
}

func dialAndDeclare(cfg Config) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "parcel-platform"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	// Every participant declares the exchange; declaration order across
	// services is not guaranteed.
	if err := ch.ExchangeDeclare(
		event.Exchange,
		event.ExchangeType,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (rp *reconnectingPublisher) run() {
	backoff := newBackoff()

	for {
		select {
		case <-rp.closed:
			return
		default:
		}

		conn, ch, err := dialAndDeclare(rp.cfg)
		if err != nil {
			t := time.NewTimer(backoff.next())
			select {
			case <-rp.closed:
				t.Stop()
				return
			case <-t.C:
			}
			continue
		}

		backoff.reset()

		rp.mu.Lock()
		rp.conn = conn
		rp.ch = ch
		// signal readiness (recreate channel each time)
		oldReady := rp.ready
		rp.ready = make(chan struct{})
		close(oldReady)
		close(rp.ready)
		rp.mu.Unlock()

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-rp.closed:
			_ = ch.Close()
			_ = conn.Close()
			return
		case <-notify:
			_ = ch.Close()
			_ = conn.Close()
		}
	}
}

func (rp *reconnectingPublisher) close() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	select {
	case <-rp.closed:
		return
	default:
		close(rp.closed)
	}
	if rp.ch != nil {
		_ = rp.ch.Close()
		rp.ch = nil
	}
	if rp.conn != nil {
		_ = rp.conn.Close()
		rp.conn = nil
	}
}

// expBackoff is exponential backoff with jitter, capped at 30s.
type expBackoff struct {
	cur time.Duration
	rng *rand.Rand
}

const maxBackoff = 30 * time.Second

func newBackoff() *expBackoff {
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	return &expBackoff{cur: time.Second, rng: rand.New(rand.NewSource(time.Now().UnixNano()))} //nolint:gosec
}

func (b *expBackoff) next() time.Duration {
	jitter := time.Duration(b.rng.Int63n(int64(b.cur / 2)))
	sleep := b.cur + jitter/2
	if sleep > maxBackoff {
		sleep = maxBackoff
	}
	if b.cur < maxBackoff {
		b.cur *= 2
		if b.cur > maxBackoff {
			b.cur = maxBackoff
		}
	}
	return sleep
}

func (b *expBackoff) reset() { b.cur = time.Second }

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, ensures the
// parcel-events exchange, and returns the Adapter and a cleanup.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", perr.ErrBrokerUnavailable)
	}
	pub, cleanup := newReconnectingPublisher(cfg)
	return New(pub), cleanup, nil
}
