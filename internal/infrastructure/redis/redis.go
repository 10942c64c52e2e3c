package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/metrics"
	"github.com/paincake00/dispatchcore/internal/usecase"
	"github.com/redis/go-redis/v9"
)

const (
	// BoardCacheKey снимок активных назначений для дашбордов.
	BoardCacheKey = "dispatch:active_assignments"
	// BoardGenerationKey счетчик сбросов снимка.
	BoardGenerationKey = "dispatch:active_assignments:gen"
	// PatrolsKey hash supervisor_id -> последний статус патруля.
	PatrolsKey = "dispatch:patrols"
	// WebhookQueue очередь задач вебхуков, общая с воркером.
	WebhookQueue = "webhook_tasks"

	PopTimeout = 5 * time.Second
	// EnqueueTimeout ограничивает одну запись задачи в очередь.
	EnqueueTimeout = 5 * time.Second
)

// RedisRepo реализация репозитория на основе Redis (для очереди и кеша).
type RedisRepo struct {
	Client   *redis.Client
	BoardTTL time.Duration
}

// New создает новое подключение к Redis.
func New(addr string, boardTTL time.Duration) (*RedisRepo, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if boardTTL <= 0 {
		boardTTL = 30 * time.Second
	}
	return &RedisRepo{Client: client, BoardTTL: boardTTL}, nil
}

// Close закрывает соединение.
func (r *RedisRepo) Close() {
	r.Client.Close()
}

// Ping проверяет доступность Redis.
func (r *RedisRepo) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// Queue (Очередь)

// Enqueue добавляет задачу в очередь списка (LPush).
func (r *RedisRepo) Enqueue(ctx context.Context, queueName string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.Client.LPush(ctx, queueName, data).Err()
}

// Dequeue извлекает задачу из очереди (BRPop - блокирующее чтение).
// Пустая строка без ошибки означает, что за PopTimeout задач не появилось.
func (r *RedisRepo) Dequeue(ctx context.Context, queueName string) (string, error) {
	// ограниченное ожидание, чтобы воркер успевал заметить отмену контекста
	result, err := r.Client.BRPop(ctx, PopTimeout, queueName).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// [имя_очереди, значение]
	if len(result) < 2 {
		return "", fmt.Errorf("redis pop unexpected result")
	}
	return result[1], nil
}

// Cache (Кеш)

// BoardGeneration текущее поколение снимка; 0, пока кеш ни разу не сбрасывался.
func (r *RedisRepo) BoardGeneration(ctx context.Context) (int64, error) {
	gen, err := r.Client.Get(ctx, BoardGenerationKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// SetBoard сохраняет снимок активных назначений с TTL, если с момента чтения generation
// кеш не сбрасывался. Устаревший снимок молча отбрасывается.
func (r *RedisRepo) SetBoard(ctx context.Context, generation int64, assignments []*entity.Assignment) error {
	data, err := json.Marshal(assignments)
	if err != nil {
		return err
	}

	err = r.Client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, BoardGenerationKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, BoardCacheKey, data, r.BoardTTL)
			return nil
		})
		return err
	}, BoardGenerationKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// GetBoard получает снимок из кеша. nil, nil - кеш пуст.
func (r *RedisRepo) GetBoard(ctx context.Context) ([]*entity.Assignment, error) {
	val, err := r.Client.Get(ctx, BoardCacheKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	assignments := make([]*entity.Assignment, 0)
	if err := json.Unmarshal(val, &assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

// InvalidateBoard сбрасывает снимок после любого перехода и увеличивает поколение.
func (r *RedisRepo) InvalidateBoard(ctx context.Context) error {
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, BoardGenerationKey)
		pipe.Del(ctx, BoardCacheKey)
		return nil
	})
	return err
}

// Patrols

// SetPatrolStatus сохраняет последний статус супервайзера.
func (r *RedisRepo) SetPatrolStatus(ctx context.Context, p entity.PatrolStatusUpdate) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.Client.HSet(ctx, PatrolsKey, p.SupervisorID, data).Err()
}

// ListPatrolStatuses все известные статусы, по supervisor_id.
func (r *RedisRepo) ListPatrolStatuses(ctx context.Context) ([]entity.PatrolStatusUpdate, error) {
	all, err := r.Client.HGetAll(ctx, PatrolsKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]entity.PatrolStatusUpdate, 0, len(all))
	for id, raw := range all {
		var p entity.PatrolStatusUpdate
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode patrol %s: %w", id, err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SupervisorID < out[j].SupervisorID })
	return out, nil
}

// ErrWebhookBufferFull буфер задач переполнен, событие в очередь вебхуков не попадет.
var ErrWebhookBufferFull = errors.New("webhook buffer full")

// WebhookPublisher ставит события жизненного цикла в очередь вебхуков.
// Остальные события пропускаются. Publish не обращается к Redis: задача кладется
// в буфер, а запись в очередь выполняет Run. При переполненном буфере задача
// отбрасывается. Доставку с повторами выполняет worker.
type WebhookPublisher struct {
	Queue   usecase.QueueRepository
	Now     func() time.Time
	Timeout time.Duration
	Metrics *metrics.Metrics
	Log     *slog.Logger

	tasks chan entity.WebhookTask
}

func NewWebhookPublisher(q usecase.QueueRepository, bufferSize int, m *metrics.Metrics, log *slog.Logger) *WebhookPublisher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &WebhookPublisher{
		Queue:   q,
		Now:     time.Now,
		Timeout: EnqueueTimeout,
		Metrics: m,
		Log:     log,
		tasks:   make(chan entity.WebhookTask, bufferSize),
	}
}

func (p *WebhookPublisher) Publish(_ context.Context, env entity.Envelope, topics ...string) error {
	if !env.Type.IsLifecycle() {
		return nil
	}
	task := entity.WebhookTask{Topics: topics, Event: env, EnqueuedAt: p.Now().UTC()}

	select {
	case p.tasks <- task:
		return nil
	default:
		p.Metrics.Webhook("dropped")
		return fmt.Errorf("%s: %w", env.Type, ErrWebhookBufferFull)
	}
}

// Run переносит задачи из буфера в очередь Redis до отмены ctx.
func (p *WebhookPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if n := len(p.tasks); n > 0 {
				p.Log.Warn("webhook tasks not enqueued on shutdown", slog.Int("count", n))
			}
			return
		case task := <-p.tasks:
			p.enqueue(task)
		}
	}
}

func (p *WebhookPublisher) enqueue(task entity.WebhookTask) {
	// собственный контекст: запись не должна зависеть от запроса, породившего событие
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()

	if err := p.Queue.Enqueue(ctx, WebhookQueue, task); err != nil {
		p.Metrics.Webhook("enqueue_failed")
		p.Log.Warn("failed to enqueue webhook",
			slog.String("type", string(task.Event.Type)), slog.Any("error", err))
	}
}

var (
	_ usecase.BoardCache      = (*RedisRepo)(nil)
	_ usecase.PatrolStore     = (*RedisRepo)(nil)
	_ usecase.QueueRepository = (*RedisRepo)(nil)
	_ usecase.EventPublisher  = (*WebhookPublisher)(nil)
)
