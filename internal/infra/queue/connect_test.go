package queue

import "testing"

func TestConnectRequiresBackend(t *testing.T) {
	if _, err := Connect("", "", "intake", "delivery"); err == nil {
		t.Fatal("без единого бэкенда подключение должно падать")
	}
}

func TestConnectFallsBackToRedis(t *testing.T) {
	queues, err := Connect("", "localhost:6379", "intake", "delivery")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	defer queues.Close()

	if _, ok := queues.Intake.(*RedisIntakeQueue); !ok {
		t.Fatalf("ожидалась Redis-очередь прогонов, получено %T", queues.Intake)
	}
	if _, ok := queues.Delivery.(*RedisDeliveryQueue); !ok {
		t.Fatalf("ожидалась Redis-очередь доставки, получено %T", queues.Delivery)
	}
}
