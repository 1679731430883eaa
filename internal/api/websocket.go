package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"backtest-core/internal/events"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams run lifecycle events. ?topics=backtest.completed,sweep.completed
// narrows the stream; all topics are sent by default.
func (s *Server) websocket(c *gin.Context) {
	topics, ok := wsTopics(c.Query("topics"))
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_TOPIC", "unknown topic")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("ws upgrade error", "error", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}
	if s.Metrics != nil {
		s.Metrics.WebsocketConns.Inc()
		defer s.Metrics.WebsocketConns.Dec()
	}

	stream, unsub := s.Bus.SubscribeMany(topics, 100)
	defer unsub()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.Log.Debug("ws write error", "error", err)
				return
			}
		}
	}
}

func wsTopics(q string) ([]events.Event, bool) {
	all := events.Topics()
	if q == "" {
		return all, true
	}
	var out []events.Event
	for _, name := range strings.Split(q, ",") {
		found := false
		for _, t := range all {
			if string(t) == strings.TrimSpace(name) {
				out = append(out, t)
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return out, true
}
