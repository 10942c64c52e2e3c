package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/paincake00/dispatchcore/internal/bus"
	"github.com/paincake00/dispatchcore/internal/delivery/http/middleware"
	"github.com/paincake00/dispatchcore/internal/entity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClientMessageType тег сообщения от дашборда.
type ClientMessageType string

const (
	MsgSubscribe   ClientMessageType = "subscribe"
	MsgUnsubscribe ClientMessageType = "unsubscribe"
	MsgMarkRead    ClientMessageType = "mark_read"
)

var ErrUnknownClientMessage = errors.New("unknown client message type")

// ClientMessage команда дашборда по WebSocket: {"type": "subscribe", "topics": [...]}.
type ClientMessage struct {
	Type   ClientMessageType `json:"type"`
	Topics []string          `json:"topics,omitempty"`
}

func (m *ClientMessage) UnmarshalJSON(data []byte) error {
	type raw ClientMessage
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	switch r.Type {
	case MsgSubscribe, MsgUnsubscribe:
		if len(r.Topics) == 0 {
			return fmt.Errorf("%s requires topics", r.Type)
		}
	case MsgMarkRead:
	default:
		return fmt.Errorf("%q: %w", r.Type, ErrUnknownClientMessage)
	}
	*m = ClientMessage(r)
	return nil
}

// serverFrame служебный кадр сервера. События шины пишутся как есть, в формате Envelope.
type serverFrame struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	Topics    []string `json:"topics,omitempty"`
	Unread    *int     `json:"unread,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type wsClient struct {
	session *bus.Session
	conn    *websocket.Conn
	control chan serverFrame
	done    chan struct{}
	log     *slog.Logger
}

// handleWebSocket подключает дашборд к шине. Топики берутся из параметра topics
// (через запятую) или по умолчанию для роли.
func (h *Handler) handleWebSocket(c *gin.Context) {
	actorID, role := middleware.Actor(c)

	topics := entity.DefaultTopics(role, actorID)
	if q := c.Query("topics"); q != "" {
		topics = strings.Split(q, ",")
	}
	for _, t := range topics {
		if !entity.CanSubscribe(role, actorID, t) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("topic %q not allowed", t), "code": "invalid_input"})
			return
		}
	}

	session, err := h.Hub.Connect(actorID, role, topics...)
	if err != nil {
		badRequest(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Hub.Disconnect(session.ID)
		h.Log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := &wsClient{
		session: session,
		conn:    conn,
		control: make(chan serverFrame, 8),
		done:    make(chan struct{}),
		log:     h.Log.With(slog.String("session_id", session.ID)),
	}
	client.reply(serverFrame{Type: "session", SessionID: session.ID, Topics: session.Topics()})

	go h.wsReadPump(client)
	go client.writePump()
}

func (h *Handler) wsReadPump(client *wsClient) {
	defer func() {
		h.Hub.Disconnect(client.session.ID)
		close(client.done)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.log.Debug("websocket closed", slog.Any("error", err))
			}
			return
		}
		client.handleMessage(message)
	}
}

func (client *wsClient) handleMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		client.reply(serverFrame{Type: "error", Error: err.Error()})
		return
	}

	s := client.session
	switch msg.Type {
	case MsgSubscribe:
		for _, t := range msg.Topics {
			if !entity.CanSubscribe(s.Role, s.ActorID, t) {
				client.reply(serverFrame{Type: "error", Error: fmt.Sprintf("topic %q not allowed", t)})
				return
			}
		}
		if err := s.Subscribe(msg.Topics...); err != nil {
			client.reply(serverFrame{Type: "error", Error: err.Error()})
			return
		}
	case MsgUnsubscribe:
		s.Unsubscribe(msg.Topics...)
	case MsgMarkRead:
		s.MarkRead()
	}

	unread := s.Unread()
	client.reply(serverFrame{Type: "ack", Topics: s.Topics(), Unread: &unread})
}

// reply ставит служебный кадр в очередь записи. Переполненная очередь кадр отбрасывает.
func (client *wsClient) reply(f serverFrame) {
	select {
	case client.control <- f:
	default:
		client.log.Warn("control frame dropped", slog.String("type", f.Type))
	}
}

func (client *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case env, ok := <-client.session.Events():
			if !ok {
				_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.writeJSON(env); err != nil {
				return
			}
		case f := <-client.control:
			if err := client.writeJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

func (client *wsClient) writeJSON(v any) error {
	_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.conn.WriteJSON(v); err != nil {
		client.log.Debug("websocket write failed", slog.Any("error", err))
		return err
	}
	return nil
}
