package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"recruiter-inbox/internal/domain"
	"recruiter-inbox/internal/infra/metrics"
)

// Rabbit держит соединение и канал AMQP для очередей задач.
type Rabbit struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
}

// NewRabbit подключается к RabbitMQ по AMQP URL.
func NewRabbit(url string) (*Rabbit, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	r := &Rabbit{url: url}
	if err := r.connect(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rabbit) connect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := channel.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}
	r.conn = conn
	r.channel = channel
	return nil
}

func (r *Rabbit) declare(queue string) error {
	_, err := r.channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// Close закрывает соединение.
func (r *Rabbit) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *Rabbit) publish(ctx context.Context, queue string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.declare(queue); err != nil {
		return err
	}
	start := time.Now()
	err := r.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", queue, start, err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

func (r *Rabbit) consume(queue string) (<-chan amqp.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.declare(queue); err != nil {
		return nil, err
	}
	deliveries, err := r.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}

func (r *Rabbit) receive(ctx context.Context, queue string, deliveries *<-chan amqp.Delivery) (amqp.Delivery, error) {
	if *deliveries == nil {
		ch, err := r.consume(queue)
		if err != nil {
			return amqp.Delivery{}, err
		}
		*deliveries = ch
	}
	select {
	case <-ctx.Done():
		return amqp.Delivery{}, ctx.Err()
	case msg, ok := <-*deliveries:
		if !ok {
			*deliveries = nil
			return amqp.Delivery{}, errors.New("amqp: delivery channel closed")
		}
		return msg, nil
	}
}

func ackFunc(msg amqp.Delivery) domain.AckFunc {
	return func(success bool) error {
		if success {
			return msg.Ack(false)
		}
		return msg.Nack(false, true)
	}
}

// RabbitIntakeQueue реализует domain.IntakeQueue поверх AMQP.
type RabbitIntakeQueue struct {
	rabbit     *Rabbit
	queue      string
	deliveries <-chan amqp.Delivery
}

// NewRabbitIntakeQueue создаёт очередь задач конвейера.
func NewRabbitIntakeQueue(rabbit *Rabbit, queue string) (*RabbitIntakeQueue, error) {
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	return &RabbitIntakeQueue{rabbit: rabbit, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitIntakeQueue) Enqueue(ctx context.Context, job domain.IntakeJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.rabbit.publish(ctx, q.queue, payload)
}

// Receive блокирующе читает задачу из очереди.
func (q *RabbitIntakeQueue) Receive(ctx context.Context) (domain.IntakeJob, domain.AckFunc, error) {
	msg, err := q.rabbit.receive(ctx, q.queue, &q.deliveries)
	if err != nil {
		return domain.IntakeJob{}, nil, err
	}
	var job domain.IntakeJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		_ = msg.Ack(false)
		return domain.IntakeJob{}, nil, fmt.Errorf("decode job: %w", err)
	}
	return job, ackFunc(msg), nil
}

// RabbitDeliveryQueue реализует domain.DeliveryQueue поверх AMQP.
type RabbitDeliveryQueue struct {
	rabbit     *Rabbit
	queue      string
	deliveries <-chan amqp.Delivery
}

// NewRabbitDeliveryQueue создаёт очередь доставки ответов.
func NewRabbitDeliveryQueue(rabbit *Rabbit, queue string) (*RabbitDeliveryQueue, error) {
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	return &RabbitDeliveryQueue{rabbit: rabbit, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitDeliveryQueue) Enqueue(ctx context.Context, job domain.DeliveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.rabbit.publish(ctx, q.queue, payload)
}

// Receive блокирующе читает задачу из очереди.
func (q *RabbitDeliveryQueue) Receive(ctx context.Context) (domain.DeliveryJob, domain.AckFunc, error) {
	msg, err := q.rabbit.receive(ctx, q.queue, &q.deliveries)
	if err != nil {
		return domain.DeliveryJob{}, nil, err
	}
	var job domain.DeliveryJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		_ = msg.Ack(false)
		return domain.DeliveryJob{}, nil, fmt.Errorf("decode job: %w", err)
	}
	return job, ackFunc(msg), nil
}
