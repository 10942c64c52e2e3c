package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/metrics"
	"github.com/paincake00/dispatchcore/internal/usecase"
)

// Worker отвечает за фоновую обработку задач (отправку вебхуков).
type Worker struct {
	Queue         usecase.QueueRepository
	QueueName     string
	WebhookURL    string
	MaxRetries    int
	RetryInterval time.Duration
	Client        *http.Client
	Metrics       *metrics.Metrics
	Log           *slog.Logger

	wg sync.WaitGroup
}

// New создает новый экземпляр воркера.
func New(q usecase.QueueRepository, queueName, webhookURL string, maxRetries int, m *metrics.Metrics, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		Queue:         q,
		QueueName:     queueName,
		WebhookURL:    webhookURL,
		MaxRetries:    maxRetries,
		RetryInterval: time.Second,
		Client:        &http.Client{Timeout: 5 * time.Second},
		Metrics:       m,
		Log:           log,
	}
}

// Start запускает цикл обработки задач и возвращается после отмены ctx,
// дождавшись задач в работе.
func (w *Worker) Start(ctx context.Context) {
	w.Log.Info("starting webhook worker", slog.String("queue", w.QueueName), slog.String("url", w.WebhookURL))
	defer w.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.Log.Info("webhook worker stopped")
			return
		default:
			// Dequeue блокируется до появления задачи или отмены контекста.
			payload, err := w.Queue.Dequeue(ctx, w.QueueName)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("worker dequeue error", slog.Any("error", err))
				time.Sleep(time.Second)
				continue
			}
			if payload == "" {
				continue
			}

			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.processTask(ctx, payload)
			}()
		}
	}
}

// processTask отправляет один вебхук с экспоненциальными повторами.
func (w *Worker) processTask(ctx context.Context, data string) {
	var task entity.WebhookTask
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		w.Log.Error("dropping malformed webhook task", slog.Any("error", err))
		w.Metrics.Webhook("malformed")
		return
	}
	log := w.Log.With(slog.String("type", string(task.Event.Type)))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.RetryInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		return w.sendWebhook(ctx, []byte(data))
	}

	var retries uint64
	if w.MaxRetries > 1 {
		retries = uint64(w.MaxRetries - 1)
	}
	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx),
		func(err error, wait time.Duration) {
			log.Warn("webhook delivery failed, retrying",
				slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.Any("error", err))
		},
	)
	if err != nil {
		log.Error("giving up on webhook", slog.Int("attempts", attempt), slog.Any("error", err))
		w.Metrics.Webhook("failed")
		return
	}
	log.Debug("webhook sent", slog.Int("attempts", attempt))
	w.Metrics.Webhook("sent")
}

// sendWebhook выполняет HTTP POST во внешнюю интеграцию.
// Ответы 4xx, кроме 429, не повторяются.
func (w *Worker) sendWebhook(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("server returned status: %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("server rejected webhook: %d", resp.StatusCode))
	}
	return nil
}
