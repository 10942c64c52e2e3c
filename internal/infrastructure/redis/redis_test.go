package redis

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/infrastructure/memory"
	"github.com/paincake00/dispatchcore/internal/logger"
	"github.com/paincake00/dispatchcore/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockQueue отдает записанные задачи в канал. block задерживает Enqueue до закрытия
// канала или истечения контекста.
type MockQueue struct {
	enqueued chan []byte
	block    chan struct{}
	err      error
}

func newMockQueue() *MockQueue {
	return &MockQueue{enqueued: make(chan []byte, 16)}
}

func (m *MockQueue) Enqueue(ctx context.Context, queueName string, payload interface{}) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.err != nil {
		m.enqueued <- nil
		return m.err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.enqueued <- data
	return nil
}

func (m *MockQueue) Dequeue(ctx context.Context, queueName string) (string, error) {
	return "", nil
}

func startPublisher(t *testing.T, p *WebhookPublisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func receive(t *testing.T, q *MockQueue) []byte {
	t.Helper()
	select {
	case data := <-q.enqueued:
		return data
	case <-time.After(time.Second):
		t.Fatal("task was not enqueued")
		return nil
	}
}

func TestWebhookPublisher_EnqueuesTask(t *testing.T) {
	q := newMockQueue()
	p := NewWebhookPublisher(q, 4, nil, logger.Discard())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.Now = func() time.Time { return at }
	startPublisher(t, p)

	env, err := entity.NewLifecycleEnvelope(entity.LifecycleEvent{AssignmentID: "a1", NewStatus: entity.StatusAccepted})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), env, entity.TopicBroadcast, "supervisor:7"))

	var task entity.WebhookTask
	require.NoError(t, json.Unmarshal(receive(t, q), &task))
	assert.Equal(t, []string{entity.TopicBroadcast, "supervisor:7"}, task.Topics)
	assert.Equal(t, entity.EventAssignmentAccepted, task.Event.Type)
	assert.Equal(t, "a1", task.Event.Lifecycle.AssignmentID)
	assert.True(t, at.Equal(task.EnqueuedAt))
}

func TestWebhookPublisher_QueueErrorIsNotReturned(t *testing.T) {
	q := newMockQueue()
	q.err = errors.New("redis down")
	p := NewWebhookPublisher(q, 4, nil, logger.Discard())
	startPublisher(t, p)

	env, err := entity.NewLifecycleEnvelope(entity.LifecycleEvent{AssignmentID: "a1", NewStatus: entity.StatusCanceled})
	require.NoError(t, err)
	assert.NoError(t, p.Publish(context.Background(), env, entity.TopicBroadcast))
	receive(t, q)
}

func TestWebhookPublisher_DropsWhenBufferFull(t *testing.T) {
	p := NewWebhookPublisher(newMockQueue(), 1, nil, logger.Discard())

	env, err := entity.NewLifecycleEnvelope(entity.LifecycleEvent{AssignmentID: "a1", NewStatus: entity.StatusAccepted})
	require.NoError(t, err)

	// Run не запущен, первая задача занимает буфер
	require.NoError(t, p.Publish(context.Background(), env, entity.TopicBroadcast))
	assert.ErrorIs(t, p.Publish(context.Background(), env, entity.TopicBroadcast), ErrWebhookBufferFull)
}

func TestWebhookPublisher_SkipsNonLifecycleEvents(t *testing.T) {
	p := NewWebhookPublisher(newMockQueue(), 1, nil, logger.Discard())

	for i := 0; i < 3; i++ {
		err := p.Publish(context.Background(), entity.NewNotificationEnvelope(entity.Notification{Title: "x"}), entity.TopicBroadcast)
		require.NoError(t, err)
	}
	assert.Empty(t, p.tasks)
}

func TestWebhookPublisher_SlowQueueDoesNotStallTransitions(t *testing.T) {
	q := newMockQueue()
	q.block = make(chan struct{})

	p := NewWebhookPublisher(q, 1, nil, logger.Discard())
	p.Timeout = time.Minute
	startPublisher(t, p)
	// очистка выполняется в обратном порядке: сначала отпускаем очередь, потом останавливаем Run
	t.Cleanup(func() { close(q.block) })

	repo := memory.New()
	ctx := context.Background()
	alarm := &entity.Alarm{ID: "alarm-1", ClientID: "c1", Status: entity.StatusOpen, CreatedAt: time.Now()}
	require.NoError(t, repo.CreateAlarm(ctx, alarm))

	svc := usecase.NewLifecycleService(usecase.LifecycleDeps{
		Assignments: repo,
		Alarms:      repo,
		Attempts:    repo,
		Verifier:    usecase.NewVerificationService(150),
		Publisher:   p,
		Log:         logger.Discard(),
	})

	done := make(chan error, 1)
	go func() {
		// создание, принятие и отмена: очередь висит на первой задаче, буфер заполняется
		a, err := svc.Create(ctx, alarm.ID, "7", "d1")
		if err == nil {
			_, err = svc.Accept(ctx, a.ID, "7")
		}
		if err == nil {
			_, err = svc.Cancel(ctx, a.ID, "d1", "test")
		}
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("transitions blocked on the webhook queue")
	}
}

func TestRedisRepo_BoardGeneration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR is not set")
	}
	r, err := New(addr, time.Minute)
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	require.NoError(t, r.InvalidateBoard(ctx))

	gen, err := r.BoardGeneration(ctx)
	require.NoError(t, err)

	board := []*entity.Assignment{{ID: "as1", Status: entity.StatusPending}}
	require.NoError(t, r.SetBoard(ctx, gen, board))
	cached, err := r.GetBoard(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)

	// снимок прочитан до сброса: в кеш не попадает
	stale, err := r.BoardGeneration(ctx)
	require.NoError(t, err)
	require.NoError(t, r.InvalidateBoard(ctx))
	require.NoError(t, r.SetBoard(ctx, stale, board))

	cached, err = r.GetBoard(ctx)
	require.NoError(t, err)
	assert.Nil(t, cached)
}
