package domain

import (
	"context"
	"time"
)

// IntakeJobCause описывает источник запроса на прогон конвейера.
type IntakeJobCause string

const (
	// IntakeCauseManual — прогон запрошен оператором через API.
	IntakeCauseManual IntakeJobCause = "manual"
	// IntakeCauseScheduled — прогон запланирован поллером.
	IntakeCauseScheduled IntakeJobCause = "scheduled"
)

// IntakeJob — задача на прогон сбора и классификации.
type IntakeJob struct {
	ID          string         `json:"job_id,omitempty"`
	Limit       int            `json:"limit"`
	UnreadOnly  bool           `json:"unread_only"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       IntakeJobCause `json:"cause"`
}

// DeliveryJob — задача на отправку согласованного ответа.
type DeliveryJob struct {
	ID          string    `json:"job_id,omitempty"`
	ResponseID  int64     `json:"response_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// AckFunc подтверждает успешную обработку или возвращает задачу в очередь.
type AckFunc func(success bool) error

// IntakeQueue — очередь задач на прогон конвейера.
type IntakeQueue interface {
	Enqueue(ctx context.Context, job IntakeJob) error
	Receive(ctx context.Context) (IntakeJob, AckFunc, error)
}

// DeliveryQueue — очередь задач на доставку ответов.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, job DeliveryJob) error
	Receive(ctx context.Context) (DeliveryJob, AckFunc, error)
}

// JobStatusRepo отвечает за идемпотентную обработку задач.
type JobStatusRepo interface {
	// EnsureJob регистрирует попытку обработки и возвращает признак уже
	// состоявшейся доставки и номер текущей попытки.
	EnsureJob(ctx context.Context, jobID string) (done bool, attempt int, err error)
	// MarkJobDone помечает задачу как окончательно обработанную.
	MarkJobDone(ctx context.Context, jobID string) error
}
