// Package messaging пересылает события шины между экземплярами сервиса через NATS.
// Доставка остается best-effort: core NATS без JetStream, без повторов.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/usecase"
)

// Config параметры подключения к NATS.
type Config struct {
	URL           string
	Name          string
	Subject       string
	ReconnectWait time.Duration
	MaxReconnects int
}

// message формат на проводе. Origin отличает свои сообщения от чужих.
type message struct {
	Origin string          `json:"origin"`
	Topics []string        `json:"topics"`
	Event  entity.Envelope `json:"event"`
}

// Relay публикует локальные события в subject и передает чужие в локальную шину.
type Relay struct {
	conn    *nats.Conn
	subject string
	origin  string
	local   usecase.EventPublisher
	log     *slog.Logger
}

// Connect подключается к NATS. local получает события других экземпляров.
func Connect(cfg Config, local usecase.EventPublisher, log *slog.Logger) (*Relay, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return newRelay(conn, cfg.Subject, local, log), nil
}

func newRelay(conn *nats.Conn, subject string, local usecase.EventPublisher, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		conn:    conn,
		subject: subject,
		origin:  uuid.NewString(),
		local:   local,
		log:     log,
	}
}

// Publish отправляет событие другим экземплярам.
func (r *Relay) Publish(ctx context.Context, env entity.Envelope, topics ...string) error {
	if r.conn == nil {
		return fmt.Errorf("nats: not connected")
	}
	data, err := json.Marshal(message{Origin: r.origin, Topics: topics, Event: env})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.conn.Publish(r.subject, data)
}

// Start подписывается на subject и блокируется до отмены ctx.
func (r *Relay) Start(ctx context.Context) error {
	sub, err := r.conn.Subscribe(r.subject, func(msg *nats.Msg) {
		r.handle(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	r.log.Info("nats relay started", slog.String("subject", r.subject), slog.String("origin", r.origin))

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		r.log.Warn("nats unsubscribe failed", slog.Any("error", err))
	}
	return nil
}

// handle передает в локальную шину события других экземпляров.
func (r *Relay) handle(ctx context.Context, data []byte) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		r.log.Warn("dropping malformed relay message", slog.Any("error", err))
		return
	}
	if m.Origin == r.origin {
		return
	}
	if err := r.local.Publish(ctx, m.Event, m.Topics...); err != nil {
		r.log.Debug("relayed event not fully delivered",
			slog.String("type", string(m.Event.Type)), slog.Any("error", err))
	}
}

// Close закрывает соединение, предварительно отправив буфер.
func (r *Relay) Close() {
	if r.conn == nil {
		return
	}
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
	}
}
