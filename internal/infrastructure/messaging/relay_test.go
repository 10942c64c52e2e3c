package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/paincake00/dispatchcore/internal/bus"
	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, m message) []byte {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return data
}

func TestRelay_ForwardsForeignEvents(t *testing.T) {
	hub := bus.NewHub(4, 4, nil, logger.Discard())
	s, err := hub.Connect("d1", entity.RoleDispatcher, entity.TopicRoleDispatcher)
	require.NoError(t, err)

	r := newRelay(nil, "dispatch.events", hub, logger.Discard())
	env, err := entity.NewLifecycleEnvelope(entity.LifecycleEvent{AssignmentID: "a1", NewStatus: entity.StatusArrived})
	require.NoError(t, err)

	r.handle(context.Background(), encode(t, message{Origin: "other", Topics: []string{entity.TopicRoleDispatcher}, Event: env}))

	select {
	case got := <-s.Events():
		assert.Equal(t, entity.EventAssignmentArrived, got.Type)
		assert.Equal(t, "a1", got.Lifecycle.AssignmentID)
	default:
		t.Fatal("relayed event not delivered")
	}
}

func TestRelay_SkipsOwnAndMalformedMessages(t *testing.T) {
	hub := bus.NewHub(4, 4, nil, logger.Discard())
	s, err := hub.Connect("d1", entity.RoleDispatcher, entity.TopicRoleDispatcher)
	require.NoError(t, err)

	r := newRelay(nil, "dispatch.events", hub, logger.Discard())
	env := entity.NewNotificationEnvelope(entity.Notification{Title: "echo"})

	r.handle(context.Background(), encode(t, message{Origin: r.origin, Topics: []string{entity.TopicRoleDispatcher}, Event: env}))
	r.handle(context.Background(), []byte(`{"origin":"x","topics":["role:dispatcher"],"event":{"type":"bogus","payload":{}}}`))
	r.handle(context.Background(), []byte(`not json`))

	select {
	case got := <-s.Events():
		t.Fatalf("unexpected delivery: %v", got.Type)
	default:
	}
}

func TestRelay_PublishWithoutConnection(t *testing.T) {
	r := newRelay(nil, "dispatch.events", nil, logger.Discard())
	err := r.Publish(context.Background(), entity.NewNotificationEnvelope(entity.Notification{Title: "x"}))
	assert.Error(t, err)
}
