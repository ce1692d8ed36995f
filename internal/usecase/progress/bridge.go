package progress

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"recruiter-inbox/internal/domain"
)

// defaultQueueSize — ёмкость очереди событий между прогоном и потребителем.
const defaultQueueSize = 64

// RunFunc — блокирующий прогон, сообщающий прогресс через колбэк.
type RunFunc func(ctx context.Context, progress domain.ProgressFn) (domain.RunSummary, error)

// EmitFunc доставляет событие потребителю. Ошибка означает, что потребитель
// отключился: прогон отменяется между шагами.
type EmitFunc func(event domain.Event) error

// Bridge перекладывает события блокирующего прогона живому потребителю.
// Гарантии: порядок событий сохраняется; completed или error — строго
// последнее событие; отключение потребителя не подвешивает конвейер.
type Bridge struct {
	queueSize int
	poll      time.Duration
	log       zerolog.Logger
}

// NewBridge создаёт мост.
func NewBridge(log zerolog.Logger) *Bridge {
	return &Bridge{
		queueSize: defaultQueueSize,
		poll:      250 * time.Millisecond,
		log:       log.With().Str("component", "progress").Logger(),
	}
}

type runResult struct {
	summary domain.RunSummary
	err     error
}

// Stream запускает прогон в фоне и ретранслирует его события потребителю.
// После завершения прогона остаток очереди доставляется до финального
// completed/error. Возвращает ошибку прогона либо ошибку доставки.
func (b *Bridge) Stream(ctx context.Context, run RunFunc, emit EmitFunc) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan domain.Event, b.queueSize)
	done := make(chan runResult, 1)

	go func() {
		summary, err := run(runCtx, func(event domain.Event) {
			// Полная очередь притормаживает прогон вместо потери события:
			// порядок и полнота важнее темпа.
			select {
			case queue <- event:
			case <-runCtx.Done():
			}
		})
		done <- runResult{summary: summary, err: err}
	}()

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	var result *runResult
	for result == nil {
		select {
		case event := <-queue:
			if err := emit(event); err != nil {
				b.log.Warn().Err(err).Msg("progress: потребитель отключился, прогон отменяется")
				b.abort(cancel, queue, done)
				return err
			}
		case r := <-done:
			result = &r
		case <-ctx.Done():
			b.abort(cancel, queue, done)
			return ctx.Err()
		case <-ticker.C:
			// Холостой тик: защищает от зависания, если оба канала молчат.
		}
	}

	// Прогон завершён: доставляем остаток очереди до финального события.
	for {
		select {
		case event := <-queue:
			if err := emit(event); err != nil {
				return err
			}
			continue
		default:
		}
		break
	}

	if result.err != nil {
		b.log.Error().Err(result.err).Msg("progress: прогон завершился ошибкой")
		if err := emit(domain.Event{Type: domain.EventError, Message: result.err.Error()}); err != nil {
			return err
		}
		return result.err
	}
	summary := result.summary
	return emit(domain.Event{Type: domain.EventCompleted, Summary: &summary})
}

// abort отменяет прогон и дожидается его завершения, вычитывая очередь,
// чтобы заблокированный на ней колбэк не завис.
func (b *Bridge) abort(cancel context.CancelFunc, queue chan domain.Event, done chan runResult) {
	cancel()
	for {
		select {
		case <-queue:
		case <-done:
			return
		}
	}
}
