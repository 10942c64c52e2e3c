package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType тег события на шине.
type EventType string

const (
	EventAssignmentCreated   EventType = "assignment.created"
	EventAssignmentAccepted  EventType = "assignment.accepted"
	EventAssignmentArrived   EventType = "assignment.arrived"
	EventAssignmentVerified  EventType = "assignment.verified"
	EventAssignmentCompleted EventType = "assignment.completed"
	EventAssignmentCanceled  EventType = "assignment.canceled"

	EventDispatchRequest EventType = "dispatch.request"
	EventNotification    EventType = "notification"
	EventPatrolStatus    EventType = "patrol.status"
)

// LifecycleEventType возвращает тег события для перехода в статус s.
func LifecycleEventType(s Status) (EventType, bool) {
	switch s {
	case StatusPending:
		return EventAssignmentCreated, true
	case StatusAccepted:
		return EventAssignmentAccepted, true
	case StatusArrived:
		return EventAssignmentArrived, true
	case StatusVerified:
		return EventAssignmentVerified, true
	case StatusCompleted:
		return EventAssignmentCompleted, true
	case StatusCanceled:
		return EventAssignmentCanceled, true
	}
	return "", false
}

// IsLifecycle true для событий перехода назначения.
func (t EventType) IsLifecycle() bool {
	switch t {
	case EventAssignmentCreated, EventAssignmentAccepted, EventAssignmentArrived,
		EventAssignmentVerified, EventAssignmentCompleted, EventAssignmentCanceled:
		return true
	}
	return false
}

// LifecycleEvent факт перехода назначения. Содержит денормализованный снимок,
// достаточный дашборду без дополнительного запроса.
type LifecycleEvent struct {
	AssignmentID string    `json:"assignment_id"`
	AlarmID      string    `json:"alarm_id"`
	SupervisorID string    `json:"supervisor_id"`
	PriorStatus  Status    `json:"prior_status,omitempty"`
	NewStatus    Status    `json:"new_status"`
	Actor        string    `json:"actor"`
	OccurredAt   time.Time `json:"occurred_at"`

	ClientName string   `json:"client_name"`
	Priority   Priority `json:"priority"`
	Address    string   `json:"address"`
}

// DispatchRequest просьба оператора к диспетчерам назначить тревогу.
type DispatchRequest struct {
	AlarmID     string    `json:"alarm_id"`
	OperatorID  string    `json:"operator_id"`
	ClientName  string    `json:"client_name"`
	Priority    Priority  `json:"priority"`
	Address     string    `json:"address"`
	Note        string    `json:"note,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Notification произвольное уведомление (тост) для дашборда.
type Notification struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Level     string    `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PatrolStatusUpdate текущее состояние и позиция супервайзера.
type PatrolStatusUpdate struct {
	SupervisorID string       `json:"supervisor_id"`
	State        PatrolState  `json:"state"`
	Location     *Coordinates `json:"location,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ErrUnknownEventType неизвестный тег в конверте.
var ErrUnknownEventType = errors.New("unknown event type")

// Envelope размеченное объединение событий шины. Заполнено ровно одно поле,
// соответствующее Type.
type Envelope struct {
	Type         EventType
	Lifecycle    *LifecycleEvent
	Dispatch     *DispatchRequest
	Notification *Notification
	Patrol       *PatrolStatusUpdate
}

func NewLifecycleEnvelope(e LifecycleEvent) (Envelope, error) {
	t, ok := LifecycleEventType(e.NewStatus)
	if !ok {
		return Envelope{}, fmt.Errorf("status %q has no lifecycle event: %w", e.NewStatus, ErrUnknownEventType)
	}
	return Envelope{Type: t, Lifecycle: &e}, nil
}

func NewDispatchEnvelope(d DispatchRequest) Envelope {
	return Envelope{Type: EventDispatchRequest, Dispatch: &d}
}

func NewNotificationEnvelope(n Notification) Envelope {
	return Envelope{Type: EventNotification, Notification: &n}
}

func NewPatrolEnvelope(p PatrolStatusUpdate) Envelope {
	return Envelope{Type: EventPatrolStatus, Patrol: &p}
}

type wireEnvelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) payload() (any, error) {
	switch {
	case e.Type.IsLifecycle():
		if e.Lifecycle != nil {
			return e.Lifecycle, nil
		}
	case e.Type == EventDispatchRequest:
		if e.Dispatch != nil {
			return e.Dispatch, nil
		}
	case e.Type == EventNotification:
		if e.Notification != nil {
			return e.Notification, nil
		}
	case e.Type == EventPatrolStatus:
		if e.Patrol != nil {
			return e.Patrol, nil
		}
	default:
		return nil, fmt.Errorf("%q: %w", e.Type, ErrUnknownEventType)
	}
	return nil, fmt.Errorf("envelope %q has no payload", e.Type)
}

// MarshalJSON кодирует конверт как {"type": ..., "payload": {...}}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	p, err := e.payload()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Type: e.Type, Payload: raw})
}

// UnmarshalJSON разбирает конверт; неизвестный тег - ошибка, а не пропуск.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Envelope{Type: w.Type}
	var target any
	switch {
	case w.Type.IsLifecycle():
		out.Lifecycle = &LifecycleEvent{}
		target = out.Lifecycle
	case w.Type == EventDispatchRequest:
		out.Dispatch = &DispatchRequest{}
		target = out.Dispatch
	case w.Type == EventNotification:
		out.Notification = &Notification{}
		target = out.Notification
	case w.Type == EventPatrolStatus:
		out.Patrol = &PatrolStatusUpdate{}
		target = out.Patrol
	default:
		return fmt.Errorf("%q: %w", w.Type, ErrUnknownEventType)
	}

	if len(w.Payload) == 0 {
		return fmt.Errorf("envelope %q has no payload", w.Type)
	}
	if err := json.Unmarshal(w.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Type, err)
	}
	*e = out
	return nil
}

// WebhookTask задача для очереди Redis, которую воркер доставляет во внешнюю интеграцию.
type WebhookTask struct {
	Topics     []string  `json:"topics"`
	Event      Envelope  `json:"event"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
