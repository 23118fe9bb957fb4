package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"okx-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var streamedEvents = []events.Event{
	events.EventSubmitResult,
	events.EventOrderUpdate,
	events.EventOrderFinalized,
	events.EventOrderReleased,
	events.EventAlarm,
	events.EventRiskState,
}

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// websocket streams daemon events to the client until it disconnects.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	out := make(chan wsMessage, 256)
	done := make(chan struct{})
	defer close(done)

	for _, e := range streamedEvents {
		stream, unsub := s.Bus.Subscribe(e, 64)
		defer unsub()
		go func(e events.Event, stream <-chan any) {
			for msg := range stream {
				select {
				case out <- wsMessage{Type: string(e), Data: msg}:
				case <-done:
					return
				}
			}
		}(e, stream)
	}

	// Reader detects client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
