package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// attemptsHeader carries the per-message retry count across redeliveries.
const attemptsHeader = "x-attempts"

// Broker wraps an AMQP connection with the small surface this system needs:
// durable queues, persistent publishes, manual acks, and delayed
// redelivery for retries.
type Broker struct {
	conn *amqp.Connection
	log  zerolog.Logger

	mu      sync.Mutex
	pubChan *amqp.Channel
}

// Connect dials the broker and opens a publish channel.
func Connect(url string, log zerolog.Logger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return &Broker{
		conn:    conn,
		log:     log.With().Str("component", "broker").Logger(),
		pubChan: ch,
	}, nil
}

// Close shuts the connection down.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubChan != nil {
		b.pubChan.Close()
	}
	b.conn.Close()
}

// declare ensures a durable queue exists.
func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", queue, err)
	}
	return nil
}

// Publish enqueues a job on the named queue with persistent delivery.
func (b *Broker) Publish(ctx context.Context, queue string, job *Job) error {
	return b.publish(ctx, queue, job, 0)
}

func (b *Broker) publish(ctx context.Context, queue string, job *Job, attempts int) error {
	body, err := job.Encode()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := declare(b.pubChan, queue); err != nil {
		return err
	}
	err = b.pubChan.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{attemptsHeader: int32(attempts)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %q: %w", queue, err)
	}
	return nil
}

// Delivery is one consumed job plus the controls to settle it.
type Delivery struct {
	Job     *Job
	Attempt int // 0 on first delivery

	queue  string
	msg    amqp.Delivery
	broker *Broker
}

// Ack marks the job done. Call only after all durable effects are written.
func (d *Delivery) Ack() error {
	return d.msg.Ack(false)
}

// Reject drops the job permanently (terminal failure).
func (d *Delivery) Reject() error {
	return d.msg.Nack(false, false)
}

// Retry schedules redelivery after the attempt's backoff delay and acks the
// original. The republish runs from a timer so the handler slot frees up
// immediately; a crash inside the delay window loses the retry, the same
// trade the original task queue made.
func (d *Delivery) Retry(ctx context.Context) error {
	attempt := d.Attempt + 1
	if attempt >= MaxAttempts {
		return fmt.Errorf("job exceeded %d attempts", MaxAttempts)
	}
	delay := BackoffDelay(attempt)
	job := d.Job
	queue := d.queue
	broker := d.broker
	time.AfterFunc(delay, func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := broker.publish(pubCtx, queue, job, attempt); err != nil {
			broker.log.Error().Err(err).Str("queue", queue).Msg("retry republish failed")
		}
	})
	broker.log.Info().
		Str("queue", queue).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("job scheduled for retry")
	return d.msg.Ack(false)
}

// Consume opens a consumer on the named queue with the given prefetch. The
// consumer tag doubles as the worker identity the management API reports,
// which the autoscaler uses to detect disconnected instances.
func (b *Broker) Consume(ctx context.Context, queue, consumerTag string, prefetch int) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %q: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				job, err := DecodeJob(msg.Body)
				if err != nil {
					// Poison message: drop, do not requeue.
					b.log.Error().Err(err).Str("queue", queue).Msg("undecodable message dropped")
					msg.Nack(false, false)
					continue
				}
				out <- Delivery{
					Job:     job,
					Attempt: attemptsFrom(msg.Headers),
					queue:   queue,
					msg:     msg,
					broker:  b,
				}
			}
		}
	}()
	return out, nil
}

func attemptsFrom(h amqp.Table) int {
	if h == nil {
		return 0
	}
	switch v := h[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
