// Package bus реализует шину событий для дашбордов: доставка по топикам,
// не более одного раза на сессию, без очереди и повторов.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/metrics"
)

// ErrDelivery событие не дошло хотя бы до одной сессии.
var ErrDelivery = errors.New("event delivery failed")

// DeliveryError сколько сессий не получили событие из-за переполненного буфера.
type DeliveryError struct {
	Type    entity.EventType
	Dropped int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%v: %s dropped for %d session(s)", ErrDelivery, e.Type, e.Dropped)
}

func (e *DeliveryError) Unwrap() error { return ErrDelivery }

// Hub рассылает события подключенным сессиям. Publish никогда не блокируется
// на медленном подписчике: если буфер сессии полон, событие для нее отбрасывается.
type Hub struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	bufferSize int
	toastLimit int

	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewHub(bufferSize, toastLimit int, m *metrics.Metrics, log *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if toastLimit <= 0 {
		toastLimit = 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		sessions:   make(map[string]*Session),
		bufferSize: bufferSize,
		toastLimit: toastLimit,
		metrics:    m,
		log:        log,
	}
}

// Connect регистрирует новую сессию, подписанную на topics.
func (h *Hub) Connect(actorID string, role entity.Role, topics ...string) (*Session, error) {
	s := &Session{
		ID:          uuid.NewString(),
		ActorID:     actorID,
		Role:        role,
		ConnectedAt: time.Now().UTC(),
		topics:      make(map[string]struct{}),
		out:         make(chan entity.Envelope, h.bufferSize),
		toastLimit:  h.toastLimit,
	}
	if err := s.Subscribe(topics...); err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	h.metrics.SessionOpened()
	h.log.Debug("session connected",
		slog.String("session_id", s.ID), slog.String("actor", actorID), slog.String("role", string(role)))
	return s, nil
}

// Disconnect удаляет сессию и закрывает ее канал. Повторный вызов безопасен.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	h.metrics.SessionClosed()
	h.log.Debug("session disconnected", slog.String("session_id", sessionID))
}

// Publish доставляет событие каждой сессии, подписанной хотя бы на один из topics,
// ровно один раз независимо от числа совпавших топиков.
func (h *Hub) Publish(_ context.Context, env entity.Envelope, topics ...string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var sent, lost int
	for _, s := range h.sessions {
		switch s.deliver(env, topics) {
		case delivered:
			sent++
		case dropped:
			lost++
			h.log.Warn("session buffer full, event dropped",
				slog.String("session_id", s.ID), slog.String("type", string(env.Type)))
		}
	}

	h.metrics.Delivered(sent)
	h.metrics.Dropped(lost)

	if lost > 0 {
		return &DeliveryError{Type: env.Type, Dropped: lost}
	}
	return nil
}

// Sessions число подключенных сессий.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close отключает все сессии.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
		h.metrics.SessionClosed()
	}
}
