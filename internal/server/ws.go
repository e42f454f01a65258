package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	logx "agenthub/pkg/logx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API is device-to-daemon, not browser-facing; origin checks add
	// nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn wraps a websocket connection with a write lock so the device
// registry's broadcasts and the read loop's replies don't interleave.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// handleDeviceWS registers the device and runs its read loop. Incoming
// notification messages feed the ingest pipeline; any traffic refreshes
// last-seen.
func (s *Service) handleDeviceWS(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", logx.String("device", deviceID), logx.Err(err))
		return
	}
	conn := &wsConn{conn: raw}

	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		name = deviceID
	}
	platform := q.Get("platform")
	if platform == "" {
		platform = "unknown"
	}

	s.deps.Devices.Connect(conn, deviceID, name, platform, []string{"notifications"})
	defer s.deps.Devices.Disconnect(deviceID)

	for {
		var env wsEnvelope
		if err := raw.ReadJSON(&env); err != nil {
			return
		}
		s.deps.Devices.Touch(deviceID)

		switch env.Type {
		case "notification":
			var req ingestRequest
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				_ = conn.WriteJSON(map[string]any{"type": "error", "payload": map[string]string{"message": "invalid notification payload"}})
				continue
			}
			if req.DeviceID == "" {
				req.DeviceID = deviceID
			}
			if req.AppID == "" || req.Title == "" {
				_ = conn.WriteJSON(map[string]any{"type": "error", "payload": map[string]string{"message": "app_id and title are required"}})
				continue
			}
			if !s.limits.allow(req.DeviceID) {
				_ = conn.WriteJSON(map[string]any{"type": "error", "payload": map[string]string{"message": "rate limit exceeded"}})
				continue
			}
			id, err := s.ingest(r, req)
			if err != nil {
				s.log.Warn("ws ingest failed", logx.String("device", deviceID), logx.Err(err))
				_ = conn.WriteJSON(map[string]any{"type": "error", "payload": map[string]string{"message": err.Error()}})
				continue
			}
			_ = conn.WriteJSON(map[string]any{"type": "ack", "payload": map[string]any{"status": "ingested", "id": id}})

		case "ping":
			_ = conn.WriteJSON(map[string]string{"type": "pong"})

		case "status":
			// Status updates only refresh last-seen.

		default:
			_ = conn.WriteJSON(map[string]any{"type": "error", "payload": map[string]string{"message": "unknown message type: " + env.Type}})
		}
	}
}

type chatPayload struct {
	Prompt string `json:"prompt"`
}

// handleChatWS runs an interactive prompt loop against one session using
// ack/response/error envelopes.
func (s *Service) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if _, err := s.deps.Sessions.Info(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session not found: "+sessionID)
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", logx.String("session", sessionID), logx.Err(err))
		return
	}
	conn := &wsConn{conn: raw}
	defer conn.Close()

	s.log.Info("chat connected", logx.String("session", sessionID))

	for {
		var env wsEnvelope
		if err := raw.ReadJSON(&env); err != nil {
			s.log.Debug("chat disconnected", logx.String("session", sessionID))
			return
		}

		switch env.Type {
		case "chat", "":
			var p chatPayload
			_ = json.Unmarshal(env.Payload, &p)
			if p.Prompt == "" {
				_ = conn.WriteJSON(map[string]any{"type": "error", "payload": map[string]string{"message": "empty prompt"}})
				continue
			}

			_ = conn.WriteJSON(map[string]any{"type": "ack", "payload": map[string]string{"status": "processing"}})

			resp, err := s.deps.Sessions.Execute(r.Context(), sessionID, p.Prompt)
			if err != nil {
				_ = conn.WriteJSON(map[string]any{"type": "error", "payload": map[string]string{"message": err.Error()}})
				continue
			}
			_ = conn.WriteJSON(map[string]any{"type": "response", "payload": map[string]string{"content": resp}})

		case "ping":
			_ = conn.WriteJSON(map[string]string{"type": "pong"})

		default:
			_ = conn.WriteJSON(map[string]any{"type": "error", "payload": map[string]string{"message": "unknown message type: " + env.Type}})
		}
	}
}

// handleEventsWS forwards bus events to the client until either side
// closes the connection.
func (s *Service) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", logx.Err(err))
		return
	}
	conn := &wsConn{conn: raw}
	defer conn.Close()

	events, unsub := s.deps.Bus.Subscribe(64)
	defer unsub()

	// Reader goroutine: surfaces disconnects and answers pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env wsEnvelope
			if err := raw.ReadJSON(&env); err != nil {
				return
			}
			if env.Type == "ping" {
				_ = conn.WriteJSON(map[string]string{"type": "pong"})
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
