package progress

import (
	"context"
	"log/slog"

	"github.com/deloog/jexagent-backend/internal/domain"
)

// EventPublisher рассылает событие остальным шлюзам через брокер.
type EventPublisher interface {
	PublishProgress(ctx context.Context, ev *domain.ProgressEvent) error
}

// Notifier доставляет финальные события терминальных переходов.
//
// Локальным подписчикам событие уходит через Broadcaster сразу,
// остальным шлюзам — через fanout брокера. Свой же fanout вернётся
// обратно и осядет в журнале как дубликат.
type Notifier struct {
	broadcaster *Broadcaster
	publisher   EventPublisher
	logger      *slog.Logger
}

// NewNotifier создаёт Notifier. publisher может быть nil: тогда
// события остаются в пределах процесса.
func NewNotifier(broadcaster *Broadcaster, publisher EventPublisher, logger *slog.Logger) *Notifier {
	return &Notifier{
		broadcaster: broadcaster,
		publisher:   publisher,
		logger:      logger,
	}
}

// TaskFinished публикует финальное событие локально и в брокер.
func (n *Notifier) TaskFinished(ctx context.Context, task *domain.Task, kind domain.EventKind, message string) {
	ev := n.broadcaster.TaskFinished(ctx, task, kind, message)

	if n.publisher == nil {
		return
	}
	if err := n.publisher.PublishProgress(ctx, ev); err != nil {
		n.logger.Error("не удалось разослать финальное событие",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
