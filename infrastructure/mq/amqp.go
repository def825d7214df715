package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/atendezap/zapdesk/core/config"
	"github.com/atendezap/zapdesk/domains/inbound"
)

const (
	dialAttempts  = 5
	dialBaseDelay = 2 * time.Second
	maxDialDelay  = 60 * time.Second
)

// AMQPQueue publishes media retry jobs to a durable topic exchange and,
// when StartConsumer is called, drains them back into the executor. The
// retry delay travels in a header because plain AMQP has no native
// per-message delay; the consumer re-applies it before executing.
type AMQPQueue struct {
	conn       *amqp091.Connection
	cfg        config.AMQPConfig
	exec       Executor
	publishMu  sync.Mutex
	done       chan struct{}
	closeOnce  sync.Once
	consumerWG sync.WaitGroup
}

// DialAMQP connects with exponential backoff and declares the exchange.
func DialAMQP(ctx context.Context, cfg config.AMQPConfig) (*AMQPQueue, error) {
	var conn *amqp091.Connection
	var lastErr error

	for i := 1; i <= dialAttempts; i++ {
		c, err := amqp091.Dial(cfg.URI)
		if err == nil {
			conn = c
			if i > 1 {
				logrus.Infof("[AMQP] Connected after %d attempts", i)
			}
			break
		}
		lastErr = err

		sleep := dialBaseDelay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		logrus.Warnf("[AMQP] Dial attempt %d failed, retrying in %s: %v", i, sleep, err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("amqp dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if conn == nil {
		return nil, fmt.Errorf("failed to connect to AMQP after %d attempts: %w", dialAttempts, lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPQueue{conn: conn, cfg: cfg, done: make(chan struct{})}, nil
}

func (q *AMQPQueue) SetExecutor(exec Executor) {
	q.exec = exec
}

// IsConnected reports transport health for the health probe.
func (q *AMQPQueue) IsConnected() bool {
	return q.conn != nil && !q.conn.IsClosed()
}

func (q *AMQPQueue) EnqueueMediaRetry(ctx context.Context, job inbound.MediaRetryJob, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	q.publishMu.Lock()
	defer q.publishMu.Unlock()

	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, q.cfg.Exchange, q.cfg.RoutingKey, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Headers:      amqp091.Table{"x-retry-delay-ms": delay.Milliseconds()},
			Body:         body,
		},
	)
	if err != nil {
		return err
	}

	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("amqp broker nacked media retry publish for message %s", job.MessageID)
	}

	logrus.Debugf("[AMQP] Queued media retry for message %s (attempt %d)", job.MessageID, job.Attempt)
	return nil
}

// StartConsumer binds the queue and feeds deliveries to the executor.
// Poison payloads are dropped without requeue; executor failures are
// acked too since the executor owns its retry budget.
func (q *AMQPQueue) StartConsumer(ctx context.Context) error {
	if q.exec == nil {
		return fmt.Errorf("amqp consumer needs an executor")
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		return err
	}

	queue, err := ch.QueueDeclare(q.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}
	if err := ch.QueueBind(queue.Name, q.cfg.RoutingKey, q.cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return err
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}

	q.consumerWG.Add(1)
	go func() {
		defer q.consumerWG.Done()
		defer ch.Close()
		for {
			select {
			case <-q.done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					logrus.Warn("[AMQP] Delivery channel closed, consumer stopping")
					return
				}
				q.handle(ctx, msg)
			}
		}
	}()

	logrus.Infof("[AMQP] Consuming media retries from queue %s (exchange %s, key %s)",
		queue.Name, q.cfg.Exchange, q.cfg.RoutingKey)
	return nil
}

func (q *AMQPQueue) handle(ctx context.Context, msg amqp091.Delivery) {
	var job inbound.MediaRetryJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		logrus.Errorf("[AMQP] Dropping undecodable media retry payload: %v", err)
		_ = msg.Nack(false, false)
		return
	}

	if ms, ok := msg.Headers["x-retry-delay-ms"].(int64); ok && ms > 0 {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = msg.Nack(false, true)
			return
		case <-timer.C:
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	err := q.exec(execCtx, job)
	cancel()
	if err != nil {
		logrus.Warnf("[AMQP] Media retry executor failed for message %s: %v", job.MessageID, err)
	}
	_ = msg.Ack(false)
}

func (q *AMQPQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	q.consumerWG.Wait()
	return q.conn.Close()
}
