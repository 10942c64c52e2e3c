package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/metrics"
	"github.com/paincake00/dispatchcore/internal/sla"
	"github.com/paincake00/dispatchcore/internal/usecase"
)

// BoardSource снимок активных назначений с уровнем SLA.
type BoardSource interface {
	BoardSnapshot(ctx context.Context) ([]usecase.BoardItem, error)
}

// Notifier публикует уведомление в топик.
type Notifier interface {
	Notify(ctx context.Context, topic, level, title, message, actorID string) (*entity.Notification, error)
}

// SLAWatcher периодически пересчитывает уровни SLA и уведомляет диспетчеров,
// когда назначение впервые переходит в attention или critical.
type SLAWatcher struct {
	Board    BoardSource
	Notifier Notifier
	Interval time.Duration
	Metrics  *metrics.Metrics
	Log      *slog.Logger

	seen map[string]sla.Tier
}

func NewSLAWatcher(board BoardSource, n Notifier, interval time.Duration, m *metrics.Metrics, log *slog.Logger) *SLAWatcher {
	if log == nil {
		log = slog.Default()
	}
	return &SLAWatcher{
		Board:    board,
		Notifier: n,
		Interval: interval,
		Metrics:  m,
		Log:      log,
		seen:     make(map[string]sla.Tier),
	}
}

// Start блокируется до отмены ctx.
func (w *SLAWatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Log.Info("starting sla watcher", slog.Duration("interval", w.Interval))
	for {
		select {
		case <-ctx.Done():
			w.Log.Info("sla watcher stopped")
			return
		case <-ticker.C:
			if err := w.Scan(ctx); err != nil {
				w.Log.Warn("sla scan failed", slog.Any("error", err))
			}
		}
	}
}

// Scan один проход. Возвращает ошибку только если снимок недоступен.
func (w *SLAWatcher) Scan(ctx context.Context) error {
	items, err := w.Board.BoardSnapshot(ctx)
	if err != nil {
		return err
	}

	active := make(map[string]struct{}, len(items))
	for _, item := range items {
		id := item.Assignment.ID
		active[id] = struct{}{}

		prev := w.seen[id]
		if item.Tier.Rank() <= prev.Rank() {
			continue
		}
		w.seen[id] = item.Tier
		w.escalate(ctx, item)
	}

	for id := range w.seen {
		if _, ok := active[id]; !ok {
			delete(w.seen, id)
		}
	}
	return nil
}

func (w *SLAWatcher) escalate(ctx context.Context, item usecase.BoardItem) {
	a := item.Assignment
	level := "warning"
	if item.Tier == sla.TierCritical {
		level = "critical"
	}

	msg := fmt.Sprintf("assignment %s (%s) open for %d min", a.ID, a.Status, item.ElapsedSeconds/60)
	if _, err := w.Notifier.Notify(ctx, entity.TopicRoleDispatcher, level, "SLA "+string(item.Tier), msg, ""); err != nil {
		w.Log.Warn("sla notification failed", slog.String("assignment_id", a.ID), slog.Any("error", err))
		return
	}
	w.Metrics.SLAEscalation(string(item.Tier))
	w.Log.Info("sla escalation",
		slog.String("assignment_id", a.ID),
		slog.String("tier", string(item.Tier)),
		slog.Int64("elapsed_seconds", item.ElapsedSeconds),
	)
}
