package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"seatlock/internal/seats"
	"seatlock/pkg/logger"

	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer reads payment.succeeded messages and books the paid seats. It
// reconnects with backoff until its context is cancelled.
type Consumer struct {
	url       string
	queue     string
	service   Service
	validator *validator.Validate

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewConsumer(url, queue string, service Service) *Consumer {
	return &Consumer{
		url:       url,
		queue:     queue,
		service:   service,
		validator: validator.New(),
	}
}

// Start runs the consume loop in the background
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			logger.GetDefault().Warn("payment consumer failed to dial broker", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		logger.GetDefault().Warn("payment consumer loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(20, 0, false); err != nil {
		logger.GetDefault().Warn("payment consumer failed to set QoS", "error", err)
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue(c.queue), true, false, false, false, nil); err != nil {
		return fmt.Errorf("dead letter queue declare: %w", err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DeadLetterQueue(c.queue),
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	logger.GetDefault().Info("Payment consumer started", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

// DeadLetterQueue names the queue rejected payments are routed to for manual review
func DeadLetterQueue(queue string) string {
	return queue + ".dead"
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeReject
	outcomeRetry
)

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	c.settle(d, c.handle(ctx, d.Body, d.Redelivered))
}

// handle books one payment. A payment is only acked once it is booked or its
// refund is queued. Store failures are retried once, then refunded. Anything
// that cannot be resolved here is rejected to the dead letter queue.
func (c *Consumer) handle(ctx context.Context, body []byte, redelivered bool) outcome {
	var evt PaymentSucceeded
	if err := json.Unmarshal(body, &evt); err != nil {
		logger.GetDefault().Error("payment consumer dead-lettered malformed message", "error", err)
		return outcomeReject
	}
	if err := c.validator.Struct(&evt); err != nil {
		logger.GetDefault().Error("payment consumer dead-lettered invalid message", "payment_ref", evt.PaymentRef, "error", err)
		return outcomeReject
	}

	_, err := c.service.HandlePaymentSucceeded(ctx, evt)
	switch {
	case err == nil:
		return outcomeAck
	case errors.Is(err, ErrRefundNotQueued):
		logger.GetDefault().Error("payment consumer dead-lettered payment with unqueued refund", "payment_ref", evt.PaymentRef, "error", err)
		return outcomeReject
	case errors.Is(err, seats.ErrLockExpiredOrStolen), errors.Is(err, ErrAmountMismatch):
		return outcomeAck
	case errors.Is(err, seats.ErrInvalidRequest), errors.Is(err, seats.ErrSeatNotFound):
		logger.GetDefault().Error("payment consumer dead-lettered unbookable payment", "payment_ref", evt.PaymentRef, "error", err)
		return outcomeReject
	case !redelivered:
		logger.GetDefault().Warn("payment consumer failed to book, retrying", "payment_ref", evt.PaymentRef, "error", err)
		return outcomeRetry
	}

	logger.GetDefault().Error("payment consumer failed to book after retry, refunding", "payment_ref", evt.PaymentRef, "error", err)
	if refundErr := c.service.RequestRefund(ctx, evt, evt.Amount, err); refundErr != nil {
		return outcomeReject
	}
	return outcomeAck
}

func (c *Consumer) settle(d amqp.Delivery, result outcome) {
	switch result {
	case outcomeAck:
		_ = d.Ack(false)
	case outcomeRetry:
		_ = d.Nack(false, true)
	default:
		_ = d.Nack(false, false)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// AMQPRefundPublisher publishes refund requests to a durable queue. The
// connection is opened lazily and re-dialed after a failure.
type AMQPRefundPublisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPRefundPublisher(url, queue string) *AMQPRefundPublisher {
	return &AMQPRefundPublisher{url: url, queue: queue}
}

func (p *AMQPRefundPublisher) PublishRefund(ctx context.Context, req RefundRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal refund request: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     req.PaymentRef,
		CorrelationId: req.PaymentRef,
		Body:          body,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.closeLocked()
		return fmt.Errorf("publish refund request: %w", err)
	}
	return nil
}

func (p *AMQPRefundPublisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.closeLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPRefundPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPRefundPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
