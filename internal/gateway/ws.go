package gateway

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"promoagent/internal/secrets"
)

// DefaultChannelID is used when a message arrives without a ChannelID.
const DefaultChannelID = "default"

// WSMessage is the JSON message protocol for the WebSocket gateway.
// Example: {"type": "chat", "content": "promociones en Chile", "channelId": "lobby"}
type WSMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	ChannelID string `json:"channelId,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// Default upgrader for WebSocket connections.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS upgrades the request and runs a read loop on the connection.
// Messages of type "chat" become turns of the session named by the
// connection and ChannelID, framed by typing_start and typing_stop; other
// types, and every message when no brain is configured, are echoed.
// Only GET is accepted for the handshake.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.logger.Debug("ws connected", "conn", connID)
	var writeMu sync.Mutex
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var in WSMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: "error", Content: "invalid JSON"})
			continue
		}
		channelID := in.ChannelID
		if channelID == "" {
			channelID = DefaultChannelID
		}

		if s.chat == nil || in.Type != "chat" {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: in.Type, Content: "echo: " + in.Content, ChannelID: channelID})
			continue
		}

		writeWSMessage(conn, &writeMu, &WSMessage{Type: "typing_start", ChannelID: channelID})
		sessionID := "ws:" + connID + ":" + channelID
		reply, err := s.turn(r.Context(), sessionID, in.Content)
		if err != nil {
			s.logger.Error("ws turn failed", "session", sessionID, "error", secrets.Redact(err.Error(), s.secrets...))
		}
		out := WSMessage{Type: in.Type, Content: reply.Text, ChannelID: channelID, Outcome: string(reply.Outcome)}
		if reply.Text == "" {
			out = WSMessage{Type: "error", Content: "the assistant is not available", ChannelID: channelID}
		}
		writeWSMessage(conn, &writeMu, &out)
		writeWSMessage(conn, &writeMu, &WSMessage{Type: "typing_stop", ChannelID: channelID})
	}
	s.logger.Debug("ws closed", "conn", connID)
}

func writeWSMessage(conn *websocket.Conn, mu *sync.Mutex, msg *WSMessage) {
	data, err := marshal(msg)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
