package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/infrastructure/memory"
	"github.com/paincake00/dispatchcore/internal/logger"
	"github.com/paincake00/dispatchcore/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlarmService_Create(t *testing.T) {
	repo := memory.New()
	svc := usecase.NewAlarmService(repo, nil, logger.Discard())

	alarm := &entity.Alarm{
		ClientID:   "  client-1 ",
		ClientName: "Pharmacy",
		Category:   entity.CategoryPanic,
		Priority:   entity.PriorityCritical,
	}
	require.NoError(t, svc.Create(context.Background(), alarm))

	assert.NotEmpty(t, alarm.ID)
	assert.Equal(t, "client-1", alarm.ClientID)
	assert.Equal(t, entity.StatusOpen, alarm.Status)

	stored, err := svc.GetByID(context.Background(), alarm.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pharmacy", stored.ClientName)
}

func TestAlarmService_CreateValidation(t *testing.T) {
	svc := usecase.NewAlarmService(memory.New(), nil, logger.Discard())

	cases := map[string]*entity.Alarm{
		"no client":       {Category: entity.CategoryFire, Priority: entity.PriorityLow},
		"bad category":    {ClientID: "c", Category: "flood", Priority: entity.PriorityLow},
		"bad priority":    {ClientID: "c", Category: entity.CategoryFire, Priority: "urgent"},
		"bad coordinates": {ClientID: "c", Category: entity.CategoryFire, Priority: entity.PriorityLow, Location: &entity.Coordinates{Latitude: 100}},
	}
	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, svc.Create(context.Background(), a), usecase.ErrInvalidInput)
		})
	}
}

func TestAlarmService_GetAllPaging(t *testing.T) {
	svc := usecase.NewAlarmService(memory.New(), nil, logger.Discard())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 15; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.Now = func() time.Time { return at }
		require.NoError(t, svc.Create(context.Background(), &entity.Alarm{
			ClientID: "c", Category: entity.CategoryFire, Priority: entity.PriorityLow,
		}))
	}

	page, err := svc.GetAll(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, page, 10)
	assert.True(t, page[0].CreatedAt.After(page[9].CreatedAt))

	rest, err := svc.GetAll(context.Background(), 10, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 5)
}

func TestAlarmService_RequestDispatch(t *testing.T) {
	repo := memory.New()
	pub := &RecordingPublisher{}
	svc := usecase.NewAlarmService(repo, pub, logger.Discard())
	ctx := context.Background()

	alarm := &entity.Alarm{ClientID: "c", ClientName: "Warehouse", Category: entity.CategoryIntrusion, Priority: entity.PriorityHigh}
	require.NoError(t, svc.Create(ctx, alarm))

	req, err := svc.RequestDispatch(ctx, alarm.ID, "op-1", "door sensor")
	require.NoError(t, err)
	assert.Equal(t, "Warehouse", req.ClientName)

	require.Len(t, pub.events, 1)
	assert.Equal(t, entity.EventDispatchRequest, pub.events[0].Env.Type)
	assert.Equal(t, []string{entity.TopicRoleDispatcher}, pub.events[0].Topics)

	_, err = svc.RequestDispatch(ctx, alarm.ID, "", "")
	assert.ErrorIs(t, err, usecase.ErrInvalidInput)

	_, err = svc.RequestDispatch(ctx, "missing", "op-1", "")
	assert.ErrorIs(t, err, usecase.ErrNotFound)

	done := &entity.Assignment{ID: "as-done", AlarmID: alarm.ID, Status: entity.StatusCompleted, CreatedAt: alarm.CreatedAt}
	require.NoError(t, repo.CreateAssignment(ctx, done))
	require.NoError(t, repo.MirrorAlarmStatus(ctx, alarm.ID, done.ID, entity.StatusCompleted))
	_, err = svc.RequestDispatch(ctx, alarm.ID, "op-1", "")
	assert.ErrorIs(t, err, usecase.ErrInvalidInput)
}
