// Package memory хранилище в памяти процесса. Используется, когда DATABASE_URL не задан, и в тестах.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/usecase"
)

// Repo реализует репозитории тревог, назначений, попыток проверки и статусов патрулей.
// Наружу всегда отдаются копии, поэтому чтения видят согласованный снимок.
type Repo struct {
	mu          sync.RWMutex
	alarms      map[string]*entity.Alarm
	assignments map[string]*entity.Assignment
	attempts    map[string][]*entity.VerificationAttempt
	patrols     map[string]entity.PatrolStatusUpdate
	// byAlarm идентификаторы назначений тревоги в порядке создания.
	byAlarm map[string][]string
}

func New() *Repo {
	return &Repo{
		alarms:      make(map[string]*entity.Alarm),
		assignments: make(map[string]*entity.Assignment),
		attempts:    make(map[string][]*entity.VerificationAttempt),
		patrols:     make(map[string]entity.PatrolStatusUpdate),
		byAlarm:     make(map[string][]string),
	}
}

func (r *Repo) Ping(ctx context.Context) error { return nil }

func cloneAlarm(a *entity.Alarm) *entity.Alarm {
	c := *a
	if a.Location != nil {
		loc := *a.Location
		c.Location = &loc
	}
	return &c
}

// Alarm Repository

func (r *Repo) CreateAlarm(ctx context.Context, a *entity.Alarm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alarms[a.ID] = cloneAlarm(a)
	return nil
}

func (r *Repo) GetAlarm(ctx context.Context, id string) (*entity.Alarm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alarms[id]
	if !ok {
		return nil, usecase.ErrNotFound
	}
	return cloneAlarm(a), nil
}

func (r *Repo) ListAlarms(ctx context.Context, limit, offset int) ([]*entity.Alarm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*entity.Alarm, 0, len(r.alarms))
	for _, a := range r.alarms {
		all = append(all, cloneAlarm(a))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return []*entity.Alarm{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (r *Repo) MirrorAlarmStatus(ctx context.Context, alarmID, assignmentID string, status entity.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	alarm, ok := r.alarms[alarmID]
	if !ok {
		return usecase.ErrNotFound
	}
	ids := r.byAlarm[alarmID]
	if len(ids) == 0 || ids[len(ids)-1] != assignmentID {
		return nil
	}
	if a := r.assignments[assignmentID]; a == nil || a.Status != status {
		return nil
	}
	alarm.Status = status
	return nil
}

// Assignment Repository

// CreateAssignment отклоняет второе активное назначение тревоги, как уникальный индекс в PostgreSQL.
func (r *Repo) CreateAssignment(ctx context.Context, a *entity.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !a.Status.IsTerminal() {
		for _, id := range r.byAlarm[a.AlarmID] {
			if !r.assignments[id].Status.IsTerminal() {
				return fmt.Errorf("alarm %s: %w", a.AlarmID, usecase.ErrDuplicateActiveAssignment)
			}
		}
	}
	r.assignments[a.ID] = a.Clone()
	r.byAlarm[a.AlarmID] = append(r.byAlarm[a.AlarmID], a.ID)
	return nil
}

func (r *Repo) GetAssignment(ctx context.Context, id string) (*entity.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assignments[id]
	if !ok {
		return nil, usecase.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *Repo) UpdateAssignment(ctx context.Context, a *entity.Assignment, expected entity.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.assignments[a.ID]
	if !ok {
		return usecase.ErrNotFound
	}
	if stored.Status != expected {
		return usecase.ErrStaleAssignment
	}
	r.assignments[a.ID] = a.Clone()
	return nil
}

func (r *Repo) GetActiveByAlarm(ctx context.Context, alarmID string) (*entity.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.assignments {
		if a.AlarmID == alarmID && !a.Status.IsTerminal() {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (r *Repo) ListActive(ctx context.Context) ([]*entity.Assignment, error) {
	return r.filterAssignments(func(a *entity.Assignment) bool { return !a.Status.IsTerminal() }), nil
}

func (r *Repo) ListByAlarm(ctx context.Context, alarmID string) ([]*entity.Assignment, error) {
	return r.filterAssignments(func(a *entity.Assignment) bool { return a.AlarmID == alarmID }), nil
}

func (r *Repo) filterAssignments(keep func(*entity.Assignment) bool) []*entity.Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.Assignment, 0)
	for _, a := range r.assignments {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// VerificationAttempt Repository

func (r *Repo) CreateAttempt(ctx context.Context, v *entity.VerificationAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[v.AssignmentID] = append(r.attempts[v.AssignmentID], v.Clone())
	return nil
}

func (r *Repo) ListAttempts(ctx context.Context, assignmentID string) ([]*entity.VerificationAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.attempts[assignmentID]
	out := make([]*entity.VerificationAttempt, 0, len(src))
	for _, v := range src {
		out = append(out, v.Clone())
	}
	return out, nil
}

// Patrol Store

func (r *Repo) SetPatrolStatus(ctx context.Context, p entity.PatrolStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	r.patrols[p.SupervisorID] = p
	return nil
}

func (r *Repo) ListPatrolStatuses(ctx context.Context) ([]entity.PatrolStatusUpdate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entity.PatrolStatusUpdate, 0, len(r.patrols))
	for _, p := range r.patrols {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SupervisorID < out[j].SupervisorID })
	return out, nil
}

var (
	_ usecase.AlarmRepository        = (*Repo)(nil)
	_ usecase.AssignmentRepository   = (*Repo)(nil)
	_ usecase.VerificationRepository = (*Repo)(nil)
	_ usecase.PatrolStore            = (*Repo)(nil)
)
