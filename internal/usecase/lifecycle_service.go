package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/metrics"
	"github.com/paincake00/dispatchcore/internal/sla"
)

// LifecycleDeps зависимости движка назначений. Board, Metrics и Log необязательны.
type LifecycleDeps struct {
	Assignments AssignmentRepository
	Alarms      AlarmRepository
	Attempts    VerificationRepository
	Verifier    *VerificationService
	Publisher   EventPublisher
	Board       BoardCache
	Metrics     *metrics.Metrics
	Log         *slog.Logger
}

// LifecycleService единственный владелец статуса назначений.
// Внутри процесса изменяющие операции над одним назначением выполняются под его мьютексом,
// поэтому события одного назначения публикуются в порядке применения переходов.
// Между экземплярами сервиса запись защищена сравнением статуса в хранилище:
// из двух переходов, прочитавших один и тот же статус, применяется только первый.
type LifecycleService struct {
	Assignments AssignmentRepository
	Alarms      AlarmRepository
	Attempts    VerificationRepository
	Verifier    *VerificationService
	Publisher   EventPublisher
	Board       BoardCache
	Metrics     *metrics.Metrics
	Log         *slog.Logger

	// Now источник времени, подменяется в тестах.
	Now func() time.Time

	locks *keyLock
}

// NewLifecycleService создает движок жизненного цикла назначений.
func NewLifecycleService(d LifecycleDeps) *LifecycleService {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &LifecycleService{
		Assignments: d.Assignments,
		Alarms:      d.Alarms,
		Attempts:    d.Attempts,
		Verifier:    d.Verifier,
		Publisher:   d.Publisher,
		Board:       d.Board,
		Metrics:     d.Metrics,
		Log:         log,
		Now:         time.Now,
		locks:       newKeyLock(),
	}
}

// VerifyArrivalInput данные сканирования кода объекта и координаты супервайзера.
// Если Location пуст, используются координаты, записанные при прибытии.
type VerifyArrivalInput struct {
	Scan     entity.ScanPayload
	Location *entity.Coordinates
}

// BoardItem активное назначение с уровнем SLA, рассчитанным в момент чтения.
type BoardItem struct {
	Assignment     *entity.Assignment `json:"assignment"`
	Tier           sla.Tier           `json:"sla_tier"`
	ElapsedSeconds int64              `json:"elapsed_seconds"`
}

// Create создает назначение в статусе pending.
func (s *LifecycleService) Create(ctx context.Context, alarmID, supervisorID, dispatcherID string) (*entity.Assignment, error) {
	if alarmID == "" || supervisorID == "" || dispatcherID == "" {
		return nil, invalidInput("alarm_id, supervisor_id and dispatcher_id are required")
	}

	unlock := s.locks.Lock("alarm:" + alarmID)
	defer unlock()

	alarm, err := s.Alarms.GetAlarm(ctx, alarmID)
	if err != nil {
		return nil, err
	}

	active, err := s.Assignments.GetActiveByAlarm(ctx, alarmID)
	if err != nil {
		return nil, fmt.Errorf("lookup active assignment for alarm %s: %w", alarmID, err)
	}
	if active != nil {
		return nil, &DuplicateAssignmentError{AlarmID: alarmID, ActiveAssignmentID: active.ID}
	}

	a := &entity.Assignment{
		ID:           uuid.NewString(),
		AlarmID:      alarmID,
		SupervisorID: supervisorID,
		DispatcherID: dispatcherID,
		Status:       entity.StatusPending,
		CreatedAt:    s.Now().UTC(),
	}

	// Назначение еще никому не видно, поэтому его мьютекс нужен только для порядка событий.
	release := s.locks.Lock(a.ID)
	defer release()

	if err := s.Assignments.CreateAssignment(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateActiveAssignment) {
			// другой экземпляр успел создать назначение между проверкой и записью
			if active, lerr := s.Assignments.GetActiveByAlarm(ctx, alarmID); lerr == nil && active != nil {
				return nil, &DuplicateAssignmentError{AlarmID: alarmID, ActiveAssignmentID: active.ID}
			}
		}
		return nil, fmt.Errorf("persist assignment: %w", err)
	}

	s.afterTransition(ctx, alarm, "", a, dispatcherID)
	return a.Clone(), nil
}

// Accept pending -> accepted. Принять может только назначенный супервайзер.
func (s *LifecycleService) Accept(ctx context.Context, id, actorID string) (*entity.Assignment, error) {
	return s.apply(ctx, id, "accept", actorID, func(a *entity.Assignment, now time.Time) error {
		if a.Status != entity.StatusPending {
			return &TransitionError{AssignmentID: a.ID, Op: "accept", From: a.Status}
		}
		if actorID != a.SupervisorID {
			return notAuthorized(actorID, "accept", a.ID)
		}
		a.Status = entity.StatusAccepted
		a.AcceptedAt = &now
		return nil
	})
}

// RecordArrival accepted -> arrived, запоминает координаты прибытия.
func (s *LifecycleService) RecordArrival(ctx context.Context, id, actorID string, at entity.Coordinates) (*entity.Assignment, error) {
	if !at.Valid() {
		return nil, invalidInput("coordinates out of range: %v,%v", at.Latitude, at.Longitude)
	}

	return s.apply(ctx, id, "arrive", actorID, func(a *entity.Assignment, now time.Time) error {
		if a.Status != entity.StatusAccepted {
			return &TransitionError{AssignmentID: a.ID, Op: "arrive", From: a.Status}
		}
		if actorID != a.SupervisorID {
			return notAuthorized(actorID, "arrive", a.ID)
		}
		loc := at
		a.Status = entity.StatusArrived
		a.ArrivedAt = &now
		a.ArrivalLocation = &loc
		return nil
	})
}

// VerifyArrival arrived -> verified при успешной проверке. При отказе назначение
// остается в arrived, попытка сохраняется, возвращается *VerificationError.
func (s *LifecycleService) VerifyArrival(ctx context.Context, id, actorID string, in VerifyArrivalInput) (*entity.Assignment, error) {
	if in.Location != nil && !in.Location.Valid() {
		return nil, invalidInput("coordinates out of range: %v,%v", in.Location.Latitude, in.Location.Longitude)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.Assignments.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != entity.StatusArrived {
		return nil, &TransitionError{AssignmentID: id, Op: "verify", From: current.Status}
	}
	if actorID != current.SupervisorID {
		return nil, notAuthorized(actorID, "verify", id)
	}

	alarm, err := s.Alarms.GetAlarm(ctx, current.AlarmID)
	if err != nil {
		return nil, fmt.Errorf("load alarm for verification: %w", err)
	}

	reporter := in.Location
	if reporter == nil {
		reporter = current.ArrivalLocation
	}

	result := s.Verifier.Verify(VerificationInput{
		ExpectedClientID: alarm.ClientID,
		Scan:             in.Scan,
		Reporter:         reporter,
		Site:             alarm.Location,
	})

	now := s.Now().UTC()
	attempt := &entity.VerificationAttempt{
		ID:             uuid.NewString(),
		AssignmentID:   id,
		Scan:           in.Scan,
		DistanceMeters: result.DistanceMeters,
		Outcome:        entity.OutcomeRejected,
		Reason:         result.Reason,
		Unconfirmed:    result.Unconfirmed,
		AttemptedAt:    now,
	}
	if reporter != nil {
		r := *reporter
		attempt.Reporter = &r
	}
	if result.Accepted {
		attempt.Outcome = entity.OutcomeAccepted
	}

	if err := s.Attempts.CreateAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("persist verification attempt: %w", err)
	}
	s.Metrics.Verification(string(attempt.Outcome), string(attempt.Reason))

	next := current.Clone()
	next.Verification = attempt.Clone()

	if !result.Accepted {
		if err := s.persist(ctx, "verify", next, current.Status); err != nil {
			return nil, err
		}
		s.Log.Warn("arrival verification rejected",
			slog.String("assignment_id", id),
			slog.String("reason", string(result.Reason)),
		)
		s.notifyRejected(ctx, alarm, next, attempt)
		return nil, &VerificationError{Reason: result.Reason, Attempt: attempt.Clone()}
	}

	next.Status = entity.StatusVerified
	next.VerifiedAt = &now
	if err := s.persist(ctx, "verify", next, current.Status); err != nil {
		return nil, err
	}

	s.afterTransition(ctx, alarm, current.Status, next, actorID)
	return next.Clone(), nil
}

// Complete verified -> completed. Без успешной проверки прибытия завершить назначение нельзя.
func (s *LifecycleService) Complete(ctx context.Context, id, actorID, notes string) (*entity.Assignment, error) {
	return s.apply(ctx, id, "complete", actorID, func(a *entity.Assignment, now time.Time) error {
		if a.Status != entity.StatusVerified || !a.Verification.Accepted() {
			return &TransitionError{AssignmentID: a.ID, Op: "complete", From: a.Status}
		}
		if actorID != a.SupervisorID {
			return notAuthorized(actorID, "complete", a.ID)
		}
		a.Status = entity.StatusCompleted
		a.CompletedAt = &now
		a.Notes = notes
		return nil
	})
}

// Cancel переводит pending, accepted или arrived в canceled.
func (s *LifecycleService) Cancel(ctx context.Context, id, actorID, reason string) (*entity.Assignment, error) {
	return s.apply(ctx, id, "cancel", actorID, func(a *entity.Assignment, now time.Time) error {
		switch a.Status {
		case entity.StatusPending, entity.StatusAccepted, entity.StatusArrived:
		default:
			return &TransitionError{AssignmentID: a.ID, Op: "cancel", From: a.Status}
		}
		a.Status = entity.StatusCanceled
		a.CanceledAt = &now
		a.CancelReason = reason
		return nil
	})
}

// Get возвращает текущий снимок назначения.
func (s *LifecycleService) Get(ctx context.Context, id string) (*entity.Assignment, error) {
	return s.Assignments.GetAssignment(ctx, id)
}

// History все назначения тревоги, включая отмененные.
func (s *LifecycleService) History(ctx context.Context, alarmID string) ([]*entity.Assignment, error) {
	if _, err := s.Alarms.GetAlarm(ctx, alarmID); err != nil {
		return nil, err
	}
	return s.Assignments.ListByAlarm(ctx, alarmID)
}

// VerificationAttempts журнал попыток подтверждения прибытия.
func (s *LifecycleService) VerificationAttempts(ctx context.Context, id string) ([]*entity.VerificationAttempt, error) {
	if _, err := s.Assignments.GetAssignment(ctx, id); err != nil {
		return nil, err
	}
	return s.Attempts.ListAttempts(ctx, id)
}

// ActiveAssignments список нетерминальных назначений (сначала из кеша, потом из хранилища).
func (s *LifecycleService) ActiveAssignments(ctx context.Context) ([]*entity.Assignment, error) {
	if s.Board == nil {
		return s.Assignments.ListActive(ctx)
	}

	cached, err := s.Board.GetBoard(ctx)
	if err == nil && cached != nil {
		return cached, nil
	}
	if err != nil {
		s.Log.Warn("board cache read failed", slog.Any("error", err))
	}

	// поколение читается до списка: если переход сбросит кеш во время чтения,
	// устаревший список не будет сохранен
	generation, genErr := s.Board.BoardGeneration(ctx)

	active, err := s.Assignments.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if genErr != nil {
		s.Log.Warn("board generation read failed", slog.Any("error", genErr))
		return active, nil
	}
	if err := s.Board.SetBoard(ctx, generation, active); err != nil {
		s.Log.Warn("board cache write failed", slog.Any("error", err))
	}
	return active, nil
}

// BoardSnapshot снимок для сверки дашборда: активные назначения с текущим уровнем SLA.
func (s *LifecycleService) BoardSnapshot(ctx context.Context) ([]BoardItem, error) {
	active, err := s.ActiveAssignments(ctx)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	items := make([]BoardItem, 0, len(active))
	for _, a := range active {
		elapsed := int64(now.Sub(a.CreatedAt) / time.Second)
		items = append(items, BoardItem{
			Assignment:     a,
			Tier:           sla.Classify(elapsed),
			ElapsedSeconds: elapsed,
		})
	}
	return items, nil
}

type mutation func(a *entity.Assignment, now time.Time) error

// apply выполняет переход под мьютексом назначения: чтение, проверка, запись, публикация.
func (s *LifecycleService) apply(ctx context.Context, id, op, actorID string, mutate mutation) (*entity.Assignment, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.Assignments.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := mutate(next, s.Now().UTC()); err != nil {
		return nil, err
	}

	if err := s.persist(ctx, op, next, current.Status); err != nil {
		return nil, err
	}

	alarm, err := s.Alarms.GetAlarm(ctx, next.AlarmID)
	if err != nil {
		s.Log.Warn("alarm snapshot unavailable for event",
			slog.String("alarm_id", next.AlarmID), slog.Any("error", err))
		alarm = &entity.Alarm{ID: next.AlarmID}
	}

	s.afterTransition(ctx, alarm, current.Status, next, actorID)
	return next.Clone(), nil
}

// persist записывает назначение, если его статус в хранилище все еще expected.
// Проигравший гонку получает TransitionError с фактическим статусом.
func (s *LifecycleService) persist(ctx context.Context, op string, next *entity.Assignment, expected entity.Status) error {
	err := s.Assignments.UpdateAssignment(ctx, next, expected)
	if errors.Is(err, ErrStaleAssignment) {
		from := expected
		if latest, gerr := s.Assignments.GetAssignment(ctx, next.ID); gerr == nil {
			from = latest.Status
		}
		s.Log.Info("concurrent transition lost",
			slog.String("assignment_id", next.ID),
			slog.String("op", op),
			slog.String("status", string(from)),
		)
		return &TransitionError{AssignmentID: next.ID, Op: op, From: from}
	}
	if err != nil {
		return fmt.Errorf("%s: persist assignment %s: %w", op, next.ID, err)
	}
	return nil
}

// afterTransition побочные эффекты уже примененного перехода. Ошибки здесь
// логируются и не возвращаются: переход считается состоявшимся.
func (s *LifecycleService) afterTransition(ctx context.Context, alarm *entity.Alarm, from entity.Status, a *entity.Assignment, actorID string) {
	s.Log.Info("assignment transition",
		slog.String("assignment_id", a.ID),
		slog.String("from", string(from)),
		slog.String("to", string(a.Status)),
		slog.String("actor", actorID),
	)
	s.Metrics.Transition(string(from), string(a.Status))

	if err := s.Alarms.MirrorAlarmStatus(ctx, a.AlarmID, a.ID, a.Status); err != nil {
		s.Log.Warn("failed to mirror alarm status",
			slog.String("alarm_id", a.AlarmID), slog.Any("error", err))
	}

	if s.Board != nil {
		if err := s.Board.InvalidateBoard(ctx); err != nil {
			s.Log.Warn("board cache invalidation failed", slog.Any("error", err))
		}
	}

	occurredAt := a.CreatedAt
	switch a.Status {
	case entity.StatusAccepted:
		occurredAt = *a.AcceptedAt
	case entity.StatusArrived:
		occurredAt = *a.ArrivedAt
	case entity.StatusVerified:
		occurredAt = *a.VerifiedAt
	case entity.StatusCompleted:
		occurredAt = *a.CompletedAt
	case entity.StatusCanceled:
		occurredAt = *a.CanceledAt
	}

	env, err := entity.NewLifecycleEnvelope(entity.LifecycleEvent{
		AssignmentID: a.ID,
		AlarmID:      a.AlarmID,
		SupervisorID: a.SupervisorID,
		PriorStatus:  from,
		NewStatus:    a.Status,
		Actor:        actorID,
		OccurredAt:   occurredAt,
		ClientName:   alarm.ClientName,
		Priority:     alarm.Priority,
		Address:      alarm.Address,
	})
	if err != nil {
		s.Log.Error("cannot build lifecycle event", slog.Any("error", err))
		return
	}

	s.publish(ctx, env, entity.TopicBroadcast, entity.TopicRoleDispatcher, entity.SupervisorTopic(a.SupervisorID))
}

func (s *LifecycleService) notifyRejected(ctx context.Context, alarm *entity.Alarm, a *entity.Assignment, attempt *entity.VerificationAttempt) {
	env := entity.NewNotificationEnvelope(entity.Notification{
		ID:        uuid.NewString(),
		Topic:     entity.TopicRoleDispatcher,
		Level:     "warning",
		Title:     "Arrival not confirmed",
		Message:   fmt.Sprintf("%s: verification rejected (%s)", alarm.ClientName, attempt.Reason),
		Actor:     a.SupervisorID,
		CreatedAt: attempt.AttemptedAt,
	})
	s.publish(ctx, env, entity.TopicRoleDispatcher)
}

func (s *LifecycleService) publish(ctx context.Context, env entity.Envelope, topics ...string) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, env, topics...); err != nil {
		s.Log.Warn("event delivery incomplete",
			slog.String("type", string(env.Type)), slog.Any("error", err))
	}
}
