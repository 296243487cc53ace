package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/logger"
)

// Publisher puts job ids on the durable jobs queue.  It satisfies
// jobs.Dispatcher.  One connection and channel are shared by every call and
// re-dialed after a failure.
type Publisher struct {
	url   string
	queue string
	logg  *logger.Logger
	now   func() time.Time

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(cfg config.AMQPConfig, logg *logger.Logger) *Publisher {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Publisher{url: cfg.URL, queue: cfg.Queue, logg: logg, now: time.Now}
}

// Dispatch publishes a persistent message for jobID.  A publish on a broken
// channel is retried once on a fresh connection.
func (p *Publisher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(JobMessage{JobID: jobID, EnqueuedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for attempt := 0; ; attempt++ {
		ch, err := p.channel()
		if err != nil {
			p.logg.WarnErr(ctx, "rabbitmq: dial failed", err)
			return err
		}
		// default exchange, routing key = queue name
		err = ch.PublishWithContext(ctx, "", p.queue, false, false, pub)
		if err == nil {
			return nil
		}
		p.reset()
		if attempt > 0 || ctx.Err() != nil {
			p.logg.WarnErr(p.logg.WithField(ctx, "job_id", jobID), "rabbitmq: publish failed", err)
			return fmt.Errorf("publish: %w", err)
		}
	}
}

// Close releases the shared connection.  Later calls to Dispatch dial again.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// channel returns the open channel, dialing when there is none.  p.mu must
// be held.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := declare(ch, p.queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// declare makes sure the durable queue exists.  It is idempotent.
func declare(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}
