package queue

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"recruiter-inbox/internal/domain"
)

// Queues — пара очередей задач поверх выбранного бэкенда.
type Queues struct {
	Intake   domain.IntakeQueue
	Delivery domain.DeliveryQueue

	closer func() error
}

// Close закрывает соединение с бэкендом.
func (q *Queues) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}

// Connect выбирает бэкенд очередей: RabbitMQ при заданном AMQP URL,
// иначе Redis lists. Redis-очереди не подтверждают доставку, поэтому
// RabbitMQ предпочтителен везде, где он доступен.
func Connect(rabbitURL, redisAddr, intakeKey, deliveryKey string) (*Queues, error) {
	if rabbitURL != "" {
		rabbit, err := NewRabbit(rabbitURL)
		if err != nil {
			return nil, err
		}
		intake, err := NewRabbitIntakeQueue(rabbit, intakeKey)
		if err != nil {
			_ = rabbit.Close()
			return nil, err
		}
		delivery, err := NewRabbitDeliveryQueue(rabbit, deliveryKey)
		if err != nil {
			_ = rabbit.Close()
			return nil, err
		}
		return &Queues{Intake: intake, Delivery: delivery, closer: rabbit.Close}, nil
	}

	if redisAddr == "" {
		return nil, errors.New("queue backend is not configured: neither amqp url nor redis addr is set")
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	return &Queues{
		Intake:   NewRedisIntakeQueue(client, intakeKey),
		Delivery: NewRedisDeliveryQueue(client, deliveryKey),
		closer:   client.Close,
	}, nil
}
