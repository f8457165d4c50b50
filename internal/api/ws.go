package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fadebot/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status stream carries no secrets beyond what /api/state serves.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsEvent struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
	Time    int64       `json:"time"`
}

// streamEvents upgrades to a websocket and forwards engine lifecycle events
// until the client disconnects. Slow clients are dropped rather than buffered.
func (s *Server) streamEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	topics := []events.Event{
		events.EventEngineStateChanged,
		events.EventEngineReset,
		events.EventEngineRepair,
		events.EventOrderUpdate,
		events.EventImbalanceEndpoint,
		events.EventPushHealth,
	}

	type tagged struct {
		topic   events.Event
		payload interface{}
	}
	merged := make(chan tagged, 64)
	done := make(chan struct{})
	defer close(done)

	for _, topic := range topics {
		ch, unsub := s.bus.Subscribe(topic, 16)
		defer unsub()
		go func(topic events.Event, ch <-chan interface{}) {
			for {
				select {
				case <-done:
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- tagged{topic, msg}:
					default:
					}
				}
			}
		}(topic, ch)
	}

	// Drain client messages so pings and close frames are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case ev := <-merged:
			msg := wsEvent{Topic: string(ev.topic), Payload: ev.payload, Time: time.Now().UnixMilli()}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
