package usecase_test

import (
	"context"
	"testing"

	"github.com/paincake00/dispatchcore/internal/bus"
	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/infrastructure/memory"
	"github.com/paincake00/dispatchcore/internal/logger"
	"github.com/paincake00/dispatchcore/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify_DeliversToSubscribedSessions(t *testing.T) {
	hub := bus.NewHub(8, 5, nil, logger.Discard())
	svc := usecase.NewNotifyService(hub, memory.New(), logger.Discard())

	dispatcher, err := hub.Connect("d1", entity.RoleDispatcher, entity.DefaultTopics(entity.RoleDispatcher, "d1")...)
	require.NoError(t, err)
	operator, err := hub.Connect("o1", entity.RoleOperator, entity.TopicRoleOperator)
	require.NoError(t, err)

	n, err := svc.Notify(context.Background(), entity.TopicRoleDispatcher, "", "Shift change", "Night shift starts", "sup-1")
	require.NoError(t, err)
	assert.Equal(t, "info", n.Level)

	select {
	case env := <-dispatcher.Events():
		require.NotNil(t, env.Notification)
		assert.Equal(t, "Shift change", env.Notification.Title)
	default:
		t.Fatal("dispatcher did not receive notification")
	}
	assert.Equal(t, 1, dispatcher.Unread())
	assert.Zero(t, operator.Unread())
}

func TestNotify_Validation(t *testing.T) {
	svc := usecase.NewNotifyService(nil, nil, logger.Discard())

	_, err := svc.Notify(context.Background(), "role:janitor", "info", "t", "m", "")
	assert.ErrorIs(t, err, usecase.ErrInvalidInput)

	_, err = svc.Notify(context.Background(), entity.TopicBroadcast, "info", "", "", "")
	assert.ErrorIs(t, err, usecase.ErrInvalidInput)
}

func TestUpdatePatrol_StoresAndPublishes(t *testing.T) {
	pub := &RecordingPublisher{}
	svc := usecase.NewNotifyService(pub, memory.New(), logger.Discard())
	ctx := context.Background()

	loc := &entity.Coordinates{Latitude: 59.93, Longitude: 30.33}
	_, err := svc.UpdatePatrol(ctx, "7", entity.PatrolOnPatrol, loc)
	require.NoError(t, err)
	_, err = svc.UpdatePatrol(ctx, "7", entity.PatrolBusy, nil)
	require.NoError(t, err)
	_, err = svc.UpdatePatrol(ctx, "3", entity.PatrolAvailable, nil)
	require.NoError(t, err)

	patrols, err := svc.ListPatrols(ctx)
	require.NoError(t, err)
	require.Len(t, patrols, 2)
	assert.Equal(t, "3", patrols[0].SupervisorID)
	assert.Equal(t, entity.PatrolBusy, patrols[1].State)

	require.Len(t, pub.events, 3)
	assert.Equal(t, entity.EventPatrolStatus, pub.events[0].Env.Type)

	_, err = svc.UpdatePatrol(ctx, "7", "sleeping", nil)
	assert.ErrorIs(t, err, usecase.ErrInvalidInput)
}
