package entity

import "time"

// Category тип тревожного события.
type Category string

const (
	CategoryIntrusion Category = "intrusion"
	CategoryFire      Category = "fire"
	CategoryPanic     Category = "panic"
	CategoryMedical   Category = "medical"
	CategoryTechnical Category = "technical"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryIntrusion, CategoryFire, CategoryPanic, CategoryMedical, CategoryTechnical:
		return true
	}
	return false
}

// Priority приоритет тревоги.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status состояние назначения (и зеркально - тревоги).
type Status string

const (
	// StatusOpen тревога еще не назначена. Назначения в этом состоянии не бывают.
	StatusOpen Status = "open"

	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusArrived   Status = "arrived"
	StatusVerified  Status = "verified"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal true для completed и canceled: из них переходов нет.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Coordinates географическая точка в градусах WGS84.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid проверяет диапазоны широты и долготы.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Alarm сработавший датчик или тревожная кнопка на объекте клиента.
// Location - зарегистрированные координаты объекта, если известны.
type Alarm struct {
	ID         string       `json:"id"`
	ClientID   string       `json:"client_id"`
	ClientName string       `json:"client_name"`
	Category   Category     `json:"category"`
	Priority   Priority     `json:"priority"`
	Address    string       `json:"address"`
	Location   *Coordinates `json:"location,omitempty"`
	Status     Status       `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Assignment назначение тревоги мобильному супервайзеру.
// После перехода в completed или canceled запись не изменяется.
type Assignment struct {
	ID           string `json:"id"`
	AlarmID      string `json:"alarm_id"`
	SupervisorID string `json:"supervisor_id"`
	DispatcherID string `json:"dispatcher_id"`
	Status       Status `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`

	ArrivalLocation *Coordinates `json:"arrival_location,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	CancelReason    string       `json:"cancel_reason,omitempty"`

	// Verification результат последней попытки подтверждения прибытия.
	Verification *VerificationAttempt `json:"verification,omitempty"`
}

// Clone возвращает глубокую копию, чтобы вызывающий код не мог изменить состояние движка.
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	c := *a
	c.AcceptedAt = cloneTime(a.AcceptedAt)
	c.ArrivedAt = cloneTime(a.ArrivedAt)
	c.VerifiedAt = cloneTime(a.VerifiedAt)
	c.CompletedAt = cloneTime(a.CompletedAt)
	c.CanceledAt = cloneTime(a.CanceledAt)
	if a.ArrivalLocation != nil {
		loc := *a.ArrivalLocation
		c.ArrivalLocation = &loc
	}
	if a.Verification != nil {
		c.Verification = a.Verification.Clone()
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ScanPayload данные, считанные со QR-кода на объекте. Передаются в проверку как есть.
type ScanPayload struct {
	ClientID     string    `json:"client_id"`
	LocationCode string    `json:"location_code"`
	ScannedAt    time.Time `json:"scanned_at"`
}

// VerificationReason причина результата проверки.
type VerificationReason string

const (
	ReasonNone                VerificationReason = ""
	ReasonClientMismatch      VerificationReason = "client_mismatch"
	ReasonOutOfRange          VerificationReason = "out_of_range"
	ReasonLocationUnavailable VerificationReason = "location_unavailable"
	ReasonUnconfirmedLocation VerificationReason = "unconfirmed_location"
)

// VerificationOutcome итог попытки подтверждения.
type VerificationOutcome string

const (
	OutcomeAccepted VerificationOutcome = "accepted"
	OutcomeRejected VerificationOutcome = "rejected"
)

// VerificationAttempt неизменяемая запись одной попытки подтверждения прибытия.
type VerificationAttempt struct {
	ID             string              `json:"id"`
	AssignmentID   string              `json:"assignment_id"`
	Scan           ScanPayload         `json:"scan"`
	Reporter       *Coordinates        `json:"reporter,omitempty"`
	DistanceMeters *float64            `json:"distance_meters,omitempty"`
	Outcome        VerificationOutcome `json:"outcome"`
	Reason         VerificationReason  `json:"reason,omitempty"`
	// Unconfirmed выставляется, когда координаты объекта неизвестны и прибытие
	// принято только по идентификатору клиента.
	Unconfirmed bool      `json:"unconfirmed_location"`
	AttemptedAt time.Time `json:"attempted_at"`
}

func (v *VerificationAttempt) Accepted() bool {
	return v != nil && v.Outcome == OutcomeAccepted
}

func (v *VerificationAttempt) Clone() *VerificationAttempt {
	if v == nil {
		return nil
	}
	c := *v
	if v.Reporter != nil {
		r := *v.Reporter
		c.Reporter = &r
	}
	if v.DistanceMeters != nil {
		d := *v.DistanceMeters
		c.DistanceMeters = &d
	}
	return &c
}

// PatrolState состояние мобильного супервайзера.
type PatrolState string

const (
	PatrolAvailable PatrolState = "available"
	PatrolOnPatrol  PatrolState = "on_patrol"
	PatrolBusy      PatrolState = "busy"
	PatrolOffDuty   PatrolState = "off_duty"
)

func (p PatrolState) Valid() bool {
	switch p {
	case PatrolAvailable, PatrolOnPatrol, PatrolBusy, PatrolOffDuty:
		return true
	}
	return false
}
