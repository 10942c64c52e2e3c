package usecase

import (
	"context"

	"github.com/paincake00/dispatchcore/internal/entity"
)

type AlarmRepository interface {
	CreateAlarm(ctx context.Context, alarm *entity.Alarm) error
	GetAlarm(ctx context.Context, id string) (*entity.Alarm, error)
	ListAlarms(ctx context.Context, limit, offset int) ([]*entity.Alarm, error)
	// MirrorAlarmStatus переносит статус назначения в тревогу, только если assignmentID -
	// последнее назначение тревоги и его текущий статус равен status. Иначе ничего не делает.
	MirrorAlarmStatus(ctx context.Context, alarmID, assignmentID string, status entity.Status) error
}

type AssignmentRepository interface {
	CreateAssignment(ctx context.Context, a *entity.Assignment) error
	GetAssignment(ctx context.Context, id string) (*entity.Assignment, error)
	// UpdateAssignment записывает назначение, если его статус в хранилище все еще expected,
	// иначе возвращает ErrStaleAssignment.
	UpdateAssignment(ctx context.Context, a *entity.Assignment, expected entity.Status) error
	// GetActiveByAlarm возвращает нетерминальное назначение тревоги или nil, nil.
	GetActiveByAlarm(ctx context.Context, alarmID string) (*entity.Assignment, error)
	ListActive(ctx context.Context) ([]*entity.Assignment, error)
	ListByAlarm(ctx context.Context, alarmID string) ([]*entity.Assignment, error)
}

type VerificationRepository interface {
	CreateAttempt(ctx context.Context, attempt *entity.VerificationAttempt) error
	ListAttempts(ctx context.Context, assignmentID string) ([]*entity.VerificationAttempt, error)
}

type PatrolStore interface {
	SetPatrolStatus(ctx context.Context, status entity.PatrolStatusUpdate) error
	ListPatrolStatuses(ctx context.Context) ([]entity.PatrolStatusUpdate, error)
}

// EventPublisher доставляет событие всем сессиям, подписанным хотя бы на один из топиков.
// Ошибка означает проблему доставки и не отменяет уже примененный переход.
type EventPublisher interface {
	Publish(ctx context.Context, event entity.Envelope, topics ...string) error
}

// BoardCache кеш снимка активных назначений для сверки дашбордов.
// Каждый сброс увеличивает поколение; снимок, прочитанный до сброса, в кеш не попадает.
type BoardCache interface {
	BoardGeneration(ctx context.Context) (int64, error)
	// SetBoard сохраняет снимок, только если поколение все еще равно generation.
	SetBoard(ctx context.Context, generation int64, assignments []*entity.Assignment) error
	GetBoard(ctx context.Context) ([]*entity.Assignment, error)
	InvalidateBoard(ctx context.Context) error
}

type QueueRepository interface {
	Enqueue(ctx context.Context, queue string, payload interface{}) error
	// Dequeue возвращает JSON задачи; пустая строка - очередь пуста.
	Dequeue(ctx context.Context, queue string) (string, error)
}
