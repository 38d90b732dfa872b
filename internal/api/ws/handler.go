package ws

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/meshbridge/internal/domain/supervisor"
	"github.com/GriffinCanCode/meshbridge/internal/shared/id"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	readLimit  = 4096
)

var upgrader = websocket.Upgrader{
	// Same-origin checks are left to the CORS layer in front of the handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Source publishes supervisor state.
type Source interface {
	Status() supervisor.Status
	Subscribe(buffer int) (<-chan supervisor.Event, func())
}

// Observer receives stream events for metrics.
type Observer interface {
	ObserveStream(open bool)
	ObserveStreamEvent()
}

type nopObserver struct{}

func (nopObserver) ObserveStream(bool)  {}
func (nopObserver) ObserveStreamEvent() {}

// Message is the envelope for every frame in both directions.
type Message struct {
	Type      string             `json:"type"`
	ID        string             `json:"id,omitempty"`
	Event     *supervisor.Event  `json:"event,omitempty"`
	Status    *supervisor.Status `json:"status,omitempty"`
	Message   string             `json:"message,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// Handler streams supervisor events to WebSocket clients.
type Handler struct {
	source   Source
	logger   *zap.Logger
	observer Observer
}

// NewHandler creates a new WebSocket handler
func NewHandler(source Source, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{source: source, logger: logger, observer: nopObserver{}}
}

// WithObserver attaches an observer.
func (h *Handler) WithObserver(o Observer) *Handler {
	if o != nil {
		h.observer = o
	}
	return h
}

// HandleConnection upgrades the request and streams events until either
// side goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.observer.ObserveStream(true)
	defer h.observer.ObserveStream(false)

	events, unsubscribe := h.source.Subscribe(32)
	defer unsubscribe()

	requests := make(chan Message, 8)
	done := make(chan struct{})
	defer close(done)
	go h.readLoop(conn, requests, done)

	status := h.source.Status()
	if err := h.send(conn, Message{Type: "status", Status: &status}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				h.send(conn, Message{Type: "closed", Message: "supervisor stopped"})
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if err := h.send(conn, Message{Type: "event", ID: id.NewEventID().String(), Event: &ev}); err != nil {
				return
			}
			h.observer.ObserveStreamEvent()

		case msg, ok := <-requests:
			if !ok {
				return
			}
			if err := h.reply(conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) reply(conn *websocket.Conn, msg Message) error {
	switch msg.Type {
	case "ping":
		return h.send(conn, Message{Type: "pong"})
	case "status":
		status := h.source.Status()
		return h.send(conn, Message{Type: "status", Status: &status})
	default:
		return h.sendError(conn, "unknown message type")
	}
}

// readLoop decodes client frames until the connection fails.
func (h *Handler) readLoop(conn *websocket.Conn, out chan<- Message, done <-chan struct{}) {
	defer close(out)

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			msg = Message{Type: "invalid"}
		}
		select {
		case out <- msg:
		case <-done:
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, msg Message) error {
	msg.Timestamp = time.Now().Unix()
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Handler) sendError(conn *websocket.Conn, text string) error {
	return h.send(conn, Message{Type: "error", Message: text})
}
