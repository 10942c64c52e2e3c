package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/logger"
	"github.com/paincake00/dispatchcore/internal/sla"
	"github.com/paincake00/dispatchcore/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Моки ---

type MockQueue struct {
	tasks chan string
}

func (m *MockQueue) Enqueue(ctx context.Context, queueName string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.tasks <- string(data)
	return nil
}

func (m *MockQueue) Dequeue(ctx context.Context, queueName string) (string, error) {
	select {
	case t := <-m.tasks:
		return t, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func newTestWorker(url string, retries int) *Worker {
	w := New(&MockQueue{tasks: make(chan string, 4)}, "webhook_tasks", url, retries, nil, logger.Discard())
	w.RetryInterval = time.Millisecond
	return w
}

func task(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(entity.WebhookTask{
		Topics: []string{entity.TopicBroadcast},
		Event:  entity.NewNotificationEnvelope(entity.Notification{ID: "n1", Title: "hello"}),
	})
	require.NoError(t, err)
	return string(data)
}

// --- Тесты ---

func TestProcessTask_RetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var got entity.WebhookTask
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "hello", got.Event.Notification.Title)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	newTestWorker(srv.URL, 5).processTask(context.Background(), task(t))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestProcessTask_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	newTestWorker(srv.URL, 3).processTask(context.Background(), task(t))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestProcessTask_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	newTestWorker(srv.URL, 5).processTask(context.Background(), task(t))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestProcessTask_MalformedTaskIsDropped(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	newTestWorker(srv.URL, 3).processTask(context.Background(), `{"event":{"type":"bogus"}}`)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestStart_DeliversQueuedTasksAndStops(t *testing.T) {
	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- struct{}{}
	}))
	defer srv.Close()

	w := newTestWorker(srv.URL, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.NoError(t, w.Queue.Enqueue(ctx, w.QueueName, json.RawMessage(task(t))))

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// --- SLA ---

type MockBoard struct {
	items []usecase.BoardItem
	err   error
}

func (m *MockBoard) BoardSnapshot(ctx context.Context) ([]usecase.BoardItem, error) {
	return m.items, m.err
}

type MockNotifier struct {
	levels []string
}

func (m *MockNotifier) Notify(ctx context.Context, topic, level, title, message, actorID string) (*entity.Notification, error) {
	m.levels = append(m.levels, level)
	return &entity.Notification{Topic: topic, Level: level, Title: title, Message: message}, nil
}

func item(id string, tier sla.Tier) usecase.BoardItem {
	return usecase.BoardItem{
		Assignment: &entity.Assignment{ID: id, Status: entity.StatusAccepted},
		Tier:       tier,
	}
}

func TestSLAWatcher_NotifiesOncePerEscalation(t *testing.T) {
	board := &MockBoard{}
	n := &MockNotifier{}
	w := NewSLAWatcher(board, n, time.Second, nil, logger.Discard())
	ctx := context.Background()

	board.items = []usecase.BoardItem{item("a1", sla.TierNormal)}
	require.NoError(t, w.Scan(ctx))
	assert.Empty(t, n.levels)

	board.items = []usecase.BoardItem{item("a1", sla.TierAttention)}
	require.NoError(t, w.Scan(ctx))
	require.NoError(t, w.Scan(ctx))
	assert.Equal(t, []string{"warning"}, n.levels)

	board.items = []usecase.BoardItem{item("a1", sla.TierCritical)}
	require.NoError(t, w.Scan(ctx))
	require.NoError(t, w.Scan(ctx))
	assert.Equal(t, []string{"warning", "critical"}, n.levels)

	// назначение завершено и пропало со сводки
	board.items = nil
	require.NoError(t, w.Scan(ctx))
	assert.Empty(t, w.seen)
}

func TestSLAWatcher_SnapshotError(t *testing.T) {
	boom := errors.New("store down")
	w := NewSLAWatcher(&MockBoard{err: boom}, &MockNotifier{}, time.Second, nil, logger.Discard())
	assert.ErrorIs(t, w.Scan(context.Background()), boom)
}
