package device

import "time"

// Conn is the transport boundary: the registry only needs to write JSON
// frames and close. The server's websocket handler adapts the real
// connection to this interface.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Message is the envelope sent to devices.
type Message struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Info is the last-known state of a device. It survives disconnects so
// listings can show devices that have been seen before.
type Info struct {
	DeviceID     string    `json:"device_id"`
	Name         string    `json:"name,omitempty"`
	Platform     string    `json:"platform"`
	Capabilities []string  `json:"capabilities,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`
	Connected    bool      `json:"connected"`
}

// PushRequest targets one device, or every connected device when DeviceID
// is empty.
type PushRequest struct {
	DeviceID  string              `json:"device_id,omitempty"`
	Title     string              `json:"title"`
	Body      string              `json:"body,omitempty"`
	Urgency   string              `json:"urgency,omitempty"`
	Rationale string              `json:"rationale,omitempty"`
	AppSource string              `json:"app_source,omitempty"`
	Actions   []map[string]string `json:"actions,omitempty"`
}
