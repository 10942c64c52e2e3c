package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paincake00/dispatchcore/internal/entity"
)

// AlarmService прием тревог и запросы оператора на диспетчеризацию.
type AlarmService struct {
	Repo      AlarmRepository
	Publisher EventPublisher
	Log       *slog.Logger
	Now       func() time.Time
}

// NewAlarmService создает новый экземпляр сервиса тревог.
func NewAlarmService(r AlarmRepository, p EventPublisher, log *slog.Logger) *AlarmService {
	if log == nil {
		log = slog.Default()
	}
	return &AlarmService{Repo: r, Publisher: p, Log: log, Now: time.Now}
}

// Create регистрирует новую тревогу в статусе open.
func (s *AlarmService) Create(ctx context.Context, a *entity.Alarm) error {
	a.ClientID = strings.TrimSpace(a.ClientID)
	if a.ClientID == "" {
		return invalidInput("client_id is required")
	}
	if !a.Category.Valid() {
		return invalidInput("unknown category %q", a.Category)
	}
	if !a.Priority.Valid() {
		return invalidInput("unknown priority %q", a.Priority)
	}
	if a.Location != nil && !a.Location.Valid() {
		return invalidInput("coordinates out of range")
	}

	a.ID = uuid.NewString()
	a.Status = entity.StatusOpen
	a.CreatedAt = s.Now().UTC()
	return s.Repo.CreateAlarm(ctx, a)
}

// GetByID возвращает тревогу по ее ID.
func (s *AlarmService) GetByID(ctx context.Context, id string) (*entity.Alarm, error) {
	return s.Repo.GetAlarm(ctx, id)
}

// GetAll возвращает список тревог с пагинацией.
func (s *AlarmService) GetAll(ctx context.Context, limit, offset int) ([]*entity.Alarm, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.Repo.ListAlarms(ctx, limit, offset)
}

// RequestDispatch оповещает диспетчеров, что тревоге нужен выезд.
func (s *AlarmService) RequestDispatch(ctx context.Context, alarmID, operatorID, note string) (*entity.DispatchRequest, error) {
	if operatorID == "" {
		return nil, invalidInput("operator id is required")
	}

	alarm, err := s.Repo.GetAlarm(ctx, alarmID)
	if err != nil {
		return nil, err
	}
	if alarm.Status == entity.StatusCompleted {
		return nil, invalidInput("alarm %s is already resolved", alarmID)
	}

	req := entity.DispatchRequest{
		AlarmID:     alarm.ID,
		OperatorID:  operatorID,
		ClientName:  alarm.ClientName,
		Priority:    alarm.Priority,
		Address:     alarm.Address,
		Note:        note,
		RequestedAt: s.Now().UTC(),
	}

	if s.Publisher != nil {
		if err := s.Publisher.Publish(ctx, entity.NewDispatchEnvelope(req), entity.TopicRoleDispatcher); err != nil {
			s.Log.Warn("dispatch request delivery incomplete",
				slog.String("alarm_id", alarmID), slog.Any("error", err))
		}
	}
	return &req, nil
}
