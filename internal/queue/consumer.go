package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/logger"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Handler executes one job.  A non-nil error requeues the message.
type Handler func(ctx context.Context, jobID string) error

// Consumer drains the jobs queue.  Run keeps reconnecting until its
// context is canceled.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	handle   Handler
	logg     *logger.Logger
}

func NewConsumer(cfg config.AMQPConfig, prefetch int, handle Handler, logg *logger.Logger) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Consumer{url: cfg.URL, queue: cfg.Queue, prefetch: prefetch, handle: handle, logg: logg}
}

// Run connects, consumes and reconnects with exponential backoff.  It
// returns ctx.Err() once ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logg.WarnErr(c.logg.WithField(ctx, "retry_in", backoff.String()), "job-consumer: failed to dial broker", err)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = initialBackoff

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logg.WarnErr(ctx, "job-consumer: consume loop ended; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.logg.WarnErr(ctx, "job-consumer: set QoS failed", err)
	}
	if err := declare(ch, c.queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{"queue": c.queue, "workers": c.prefetch}), "job-consumer: consuming")
	return c.drain(ctx, msgs)
}

// drain hands deliveries to prefetch workers, so up to prefetch jobs run at
// once.  It returns after every worker has settled its current delivery.
func (c *Consumer) drain(ctx context.Context, msgs <-chan amqp.Delivery) error {
	var wg sync.WaitGroup
	for i := 0; i < c.prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						return
					}
					c.deliver(ctx, d)
				}
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("deliveries channel closed")
}

// deliver runs the handler and settles the delivery: Ack on success,
// requeue on handler failure, reject on an unreadable body.
func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	msg, err := Decode(d.Body)
	if err != nil {
		c.logg.WarnErr(ctx, "job-consumer: rejecting malformed message", err)
		_ = d.Nack(false, false)
		return
	}
	jobCtx := c.logg.WithField(ctx, "job_id", msg.JobID)
	if err := c.handle(jobCtx, msg.JobID); err != nil {
		c.logg.Error(jobCtx, "job-consumer: handler failed; requeueing", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
