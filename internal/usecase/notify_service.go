package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paincake00/dispatchcore/internal/entity"
)

// NotifyService публикует вспомогательные события: уведомления и статусы патрулей.
type NotifyService struct {
	Publisher EventPublisher
	Patrols   PatrolStore
	Log       *slog.Logger
	Now       func() time.Time
}

func NewNotifyService(p EventPublisher, patrols PatrolStore, log *slog.Logger) *NotifyService {
	if log == nil {
		log = slog.Default()
	}
	return &NotifyService{Publisher: p, Patrols: patrols, Log: log, Now: time.Now}
}

// Notify отправляет уведомление в топик. Ошибки доставки не возвращаются.
func (s *NotifyService) Notify(ctx context.Context, topic, level, title, message, actorID string) (*entity.Notification, error) {
	if !entity.ValidTopic(topic) {
		return nil, invalidInput("unknown topic %q", topic)
	}
	if title == "" && message == "" {
		return nil, invalidInput("title or message is required")
	}
	if level == "" {
		level = "info"
	}

	n := entity.Notification{
		ID:        uuid.NewString(),
		Topic:     topic,
		Level:     level,
		Title:     title,
		Message:   message,
		Actor:     actorID,
		CreatedAt: s.Now().UTC(),
	}
	s.publish(ctx, entity.NewNotificationEnvelope(n), topic)
	return &n, nil
}

// UpdatePatrol сохраняет статус супервайзера и рассылает его диспетчерам.
func (s *NotifyService) UpdatePatrol(ctx context.Context, supervisorID string, state entity.PatrolState, loc *entity.Coordinates) (*entity.PatrolStatusUpdate, error) {
	if supervisorID == "" {
		return nil, invalidInput("supervisor id is required")
	}
	if !state.Valid() {
		return nil, invalidInput("unknown patrol state %q", state)
	}
	if loc != nil && !loc.Valid() {
		return nil, invalidInput("coordinates out of range")
	}

	update := entity.PatrolStatusUpdate{
		SupervisorID: supervisorID,
		State:        state,
		Location:     loc,
		UpdatedAt:    s.Now().UTC(),
	}
	if s.Patrols != nil {
		if err := s.Patrols.SetPatrolStatus(ctx, update); err != nil {
			return nil, err
		}
	}

	s.publish(ctx, entity.NewPatrolEnvelope(update), entity.TopicRoleDispatcher)
	return &update, nil
}

// ListPatrols последние известные статусы супервайзеров.
func (s *NotifyService) ListPatrols(ctx context.Context) ([]entity.PatrolStatusUpdate, error) {
	if s.Patrols == nil {
		return nil, nil
	}
	return s.Patrols.ListPatrolStatuses(ctx)
}

func (s *NotifyService) publish(ctx context.Context, env entity.Envelope, topics ...string) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, env, topics...); err != nil {
		s.Log.Warn("event delivery incomplete",
			slog.String("type", string(env.Type)), slog.Any("error", err))
	}
}
