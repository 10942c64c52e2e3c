package memory

import (
	"context"
	"testing"
	"time"

	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepo_AlarmPaging(t *testing.T) {
	r := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, r.CreateAlarm(ctx, &entity.Alarm{ID: id, Status: entity.StatusOpen, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	page, err := r.ListAlarms(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a3", page[0].ID)
	assert.Equal(t, "a2", page[1].ID)

	page, err = r.ListAlarms(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a1", page[0].ID)

	page, err = r.ListAlarms(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = r.GetAlarm(ctx, "missing")
	assert.ErrorIs(t, err, usecase.ErrNotFound)
}

func TestRepo_AssignmentsAreCopies(t *testing.T) {
	r := New()
	ctx := context.Background()

	a := &entity.Assignment{ID: "as1", AlarmID: "a1", Status: entity.StatusPending, CreatedAt: time.Now()}
	require.NoError(t, r.CreateAssignment(ctx, a))

	// изменение исходного объекта не видно хранилищу
	a.Status = entity.StatusAccepted
	got, err := r.GetAssignment(ctx, "as1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, got.Status)

	got.Status = entity.StatusCanceled
	again, err := r.GetAssignment(ctx, "as1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, again.Status)

	assert.ErrorIs(t, r.UpdateAssignment(ctx, &entity.Assignment{ID: "missing"}, entity.StatusPending), usecase.ErrNotFound)
}

func TestRepo_UpdateAssignmentComparesStatus(t *testing.T) {
	r := New()
	ctx := context.Background()
	require.NoError(t, r.CreateAssignment(ctx, &entity.Assignment{ID: "as1", AlarmID: "a1", Status: entity.StatusPending}))

	accepted := &entity.Assignment{ID: "as1", AlarmID: "a1", Status: entity.StatusAccepted}
	require.NoError(t, r.UpdateAssignment(ctx, accepted, entity.StatusPending))

	// второй писатель строил переход из pending, которого уже нет
	canceled := &entity.Assignment{ID: "as1", AlarmID: "a1", Status: entity.StatusCanceled}
	assert.ErrorIs(t, r.UpdateAssignment(ctx, canceled, entity.StatusPending), usecase.ErrStaleAssignment)

	got, err := r.GetAssignment(ctx, "as1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAccepted, got.Status)
}

func TestRepo_OneActiveAssignmentPerAlarm(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.CreateAssignment(ctx, &entity.Assignment{ID: "as1", AlarmID: "a1", Status: entity.StatusPending}))
	err := r.CreateAssignment(ctx, &entity.Assignment{ID: "as2", AlarmID: "a1", Status: entity.StatusPending})
	assert.ErrorIs(t, err, usecase.ErrDuplicateActiveAssignment)

	require.NoError(t, r.UpdateAssignment(ctx, &entity.Assignment{ID: "as1", AlarmID: "a1", Status: entity.StatusCanceled}, entity.StatusPending))
	require.NoError(t, r.CreateAssignment(ctx, &entity.Assignment{ID: "as2", AlarmID: "a1", Status: entity.StatusPending}))
}

func TestRepo_MirrorAlarmStatusFollowsLatestAssignment(t *testing.T) {
	r := New()
	ctx := context.Background()
	require.NoError(t, r.CreateAlarm(ctx, &entity.Alarm{ID: "a1", Status: entity.StatusOpen}))

	require.NoError(t, r.CreateAssignment(ctx, &entity.Assignment{ID: "old", AlarmID: "a1", Status: entity.StatusCanceled}))
	require.NoError(t, r.CreateAssignment(ctx, &entity.Assignment{ID: "new", AlarmID: "a1", Status: entity.StatusPending}))

	require.NoError(t, r.MirrorAlarmStatus(ctx, "a1", "new", entity.StatusPending))
	// запоздалое зеркало вытесненного назначения игнорируется
	require.NoError(t, r.MirrorAlarmStatus(ctx, "a1", "old", entity.StatusCanceled))
	// статус, который назначение уже покинуло, тоже
	require.NoError(t, r.MirrorAlarmStatus(ctx, "a1", "new", entity.StatusAccepted))

	a, err := r.GetAlarm(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, a.Status)

	assert.ErrorIs(t, r.MirrorAlarmStatus(ctx, "missing", "new", entity.StatusPending), usecase.ErrNotFound)
}

func TestRepo_ActiveAssignments(t *testing.T) {
	r := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.CreateAssignment(ctx, &entity.Assignment{ID: "old", AlarmID: "a1", Status: entity.StatusCanceled, CreatedAt: base}))
	require.NoError(t, r.CreateAssignment(ctx, &entity.Assignment{ID: "cur", AlarmID: "a1", Status: entity.StatusArrived, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, r.CreateAssignment(ctx, &entity.Assignment{ID: "other", AlarmID: "a2", Status: entity.StatusPending, CreatedAt: base.Add(2 * time.Minute)}))

	active, err := r.GetActiveByAlarm(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "cur", active.ID)

	none, err := r.GetActiveByAlarm(ctx, "a3")
	require.NoError(t, err)
	assert.Nil(t, none)

	list, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cur", list[0].ID)
	assert.Equal(t, "other", list[1].ID)

	history, err := r.ListByAlarm(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "old", history[0].ID)
}

func TestRepo_AttemptsAndPatrols(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.CreateAttempt(ctx, &entity.VerificationAttempt{ID: "v1", AssignmentID: "as1", Outcome: entity.OutcomeRejected}))
	require.NoError(t, r.CreateAttempt(ctx, &entity.VerificationAttempt{ID: "v2", AssignmentID: "as1", Outcome: entity.OutcomeAccepted}))

	attempts, err := r.ListAttempts(ctx, "as1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "v1", attempts[0].ID)
	assert.Equal(t, "v2", attempts[1].ID)

	empty, err := r.ListAttempts(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)

	loc := &entity.Coordinates{Latitude: 55.75, Longitude: 37.61}
	require.NoError(t, r.SetPatrolStatus(ctx, entity.PatrolStatusUpdate{SupervisorID: "sup-2", State: entity.PatrolBusy}))
	require.NoError(t, r.SetPatrolStatus(ctx, entity.PatrolStatusUpdate{SupervisorID: "sup-1", State: entity.PatrolAvailable, Location: loc}))
	loc.Latitude = 0

	patrols, err := r.ListPatrolStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, patrols, 2)
	assert.Equal(t, "sup-1", patrols[0].SupervisorID)
	assert.Equal(t, 55.75, patrols[0].Location.Latitude)
	assert.Equal(t, entity.PatrolBusy, patrols[1].State)
}
