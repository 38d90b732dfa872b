package ws

import (
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/meshbridge/internal/domain/supervisor"
)

type fakeSource struct {
	events       chan supervisor.Event
	unsubscribed atomic.Bool
}

func (f *fakeSource) Status() supervisor.Status {
	return supervisor.Status{State: supervisor.StateReady, Generation: 1, Version: "0.2.3"}
}

func (f *fakeSource) Subscribe(int) (<-chan supervisor.Event, func()) {
	return f.events, func() { f.unsubscribed.Store(true) }
}

type countingObserver struct {
	open, events atomic.Int32
}

func (o *countingObserver) ObserveStream(open bool) {
	if open {
		o.open.Add(1)
	} else {
		o.open.Add(-1)
	}
}

func (o *countingObserver) ObserveStreamEvent() { o.events.Add(1) }

func dial(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/_bridge/events", h.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/_bridge/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, sonic.Unmarshal(data, &msg))
	return msg
}

func write(t *testing.T, conn *websocket.Conn, msgType string) {
	t.Helper()
	data, err := sonic.Marshal(Message{Type: msgType})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestStreamsStatusAndEvents(t *testing.T) {
	src := &fakeSource{events: make(chan supervisor.Event, 4)}
	obs := &countingObserver{}
	conn := dial(t, NewHandler(src, nil).WithObserver(obs))

	first := read(t, conn)
	assert.Equal(t, "status", first.Type)
	require.NotNil(t, first.Status)
	assert.Equal(t, supervisor.StateReady, first.Status.State)
	assert.Equal(t, "0.2.3", first.Status.Version)

	src.events <- supervisor.Event{State: supervisor.StateCrashed, Generation: 1, Error: "exit status 1"}
	ev := read(t, conn)
	assert.Equal(t, "event", ev.Type)
	assert.True(t, strings.HasPrefix(ev.ID, "evt_"))
	require.NotNil(t, ev.Event)
	assert.Equal(t, supervisor.StateCrashed, ev.Event.State)
	assert.Equal(t, "exit status 1", ev.Event.Error)

	assert.Eventually(t, func() bool { return obs.events.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), obs.open.Load())
}

func TestClientRequests(t *testing.T) {
	src := &fakeSource{events: make(chan supervisor.Event)}
	conn := dial(t, NewHandler(src, nil))
	read(t, conn)

	write(t, conn, "ping")
	assert.Equal(t, "pong", read(t, conn).Type)

	write(t, conn, "status")
	assert.Equal(t, "status", read(t, conn).Type)

	write(t, conn, "launch")
	msg := read(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "unknown message type", msg.Message)
}

func TestSupervisorStopClosesStream(t *testing.T) {
	src := &fakeSource{events: make(chan supervisor.Event)}
	obs := &countingObserver{}
	conn := dial(t, NewHandler(src, nil).WithObserver(obs))
	read(t, conn)

	close(src.events)
	assert.Equal(t, "closed", read(t, conn).Type)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	assert.Eventually(t, func() bool {
		return src.unsubscribed.Load() && obs.open.Load() == 0
	}, time.Second, 5*time.Millisecond)
}
