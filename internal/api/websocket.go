package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"executor-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams engine events to dashboard clients.
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

	stream, unsub := s.Bus.SubscribeMany(100,
		events.EventSignal,
		events.EventSafetyRejection,
		events.EventStrategyState,
		events.EventCommandEnqueued,
		events.EventCommandAcked,
		events.EventCommandFailed,
		events.EventCommandRejected,
		events.EventAccountUpdate,
		events.EventEmergencyActive,
		events.EventEmergencyCleared,
	)
	defer unsub()

	for env := range stream {
		msg := gin.H{"topic": string(env.Topic), "payload": env.Payload}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
