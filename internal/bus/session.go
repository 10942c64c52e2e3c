package bus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paincake00/dispatchcore/internal/entity"
)

// Session подключение одного дашборда. Владеет собственным буфером доставки,
// счетчиком непрочитанных и списком последних уведомлений; все это живет
// от Connect до Disconnect.
type Session struct {
	ID          string
	ActorID     string
	Role        entity.Role
	ConnectedAt time.Time

	mu         sync.Mutex
	topics     map[string]struct{}
	out        chan entity.Envelope
	closed     bool
	unread     int
	toasts     []entity.Notification
	toastLimit int
}

// Events поток событий сессии. Канал закрывается при Disconnect.
func (s *Session) Events() <-chan entity.Envelope {
	return s.out
}

// Subscribe добавляет топики. Неизвестный топик - ошибка, остальные не добавляются.
func (s *Session) Subscribe(topics ...string) error {
	for _, t := range topics {
		if !entity.ValidTopic(t) {
			return fmt.Errorf("unknown topic %q", t)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	return nil
}

func (s *Session) Unsubscribe(topics ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		delete(s.topics, t)
	}
}

// Topics отсортированный список подписок.
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Session) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Toasts копия последних уведомлений, от старых к новым.
func (s *Session) Toasts() []entity.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.Notification(nil), s.toasts...)
}

// MarkRead сбрасывает счетчик непрочитанных и список уведомлений.
func (s *Session) MarkRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread = 0
	s.toasts = nil
}

type deliveryResult int

const (
	notMatched deliveryResult = iota
	delivered
	dropped
)

// deliver кладет событие в буфер без блокировки. Если буфер полон, событие теряется.
func (s *Session) deliver(env entity.Envelope, topics []string) deliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.matches(topics) {
		return notMatched
	}

	select {
	case s.out <- env:
	default:
		return dropped
	}

	if env.Notification != nil {
		s.unread++
		s.toasts = append(s.toasts, *env.Notification)
		if len(s.toasts) > s.toastLimit {
			s.toasts = s.toasts[len(s.toasts)-s.toastLimit:]
		}
	}
	return delivered
}

func (s *Session) matches(topics []string) bool {
	for _, t := range topics {
		if _, ok := s.topics[t]; ok {
			return true
		}
	}
	return false
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.unread = 0
	s.toasts = nil
	close(s.out)
}
