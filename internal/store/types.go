package store

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("notification not found")

// Notification is one ingested client-device notification plus its
// processing outcome. Rows are written once on ingest, updated exactly once
// by the processor, and never deleted by this layer.
type Notification struct {
	ID               int64           `json:"id"`
	DeviceID         string          `json:"device_id"`
	AppID            string          `json:"app_id"`
	AppName          string          `json:"app_name,omitempty"`
	Title            string          `json:"title"`
	Body             string          `json:"body,omitempty"`
	Sender           string          `json:"sender,omitempty"`
	ConversationHint string          `json:"conversation_hint,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	IngestedAt       time.Time       `json:"ingested_at"`
	Processed        bool            `json:"processed"`
	RelevanceScore   float64         `json:"relevance_score"`
	Decision         string          `json:"decision,omitempty"`
	Rationale        string          `json:"rationale,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

// DisplayApp returns the human-readable app name, falling back to the id.
func (n Notification) DisplayApp() string {
	if n.AppName != "" {
		return n.AppName
	}
	if n.AppID != "" {
		return n.AppID
	}
	return "Unknown"
}

// Filters narrows GetRecent results. Zero values mean "no filter".
type Filters struct {
	Limit           int
	DeviceID        string
	AppID           string
	Since           time.Time
	UnprocessedOnly bool
}

type AppCount struct {
	AppID   string `json:"app_id"`
	AppName string `json:"app_name,omitempty"`
	Count   int    `json:"count"`
}

type DeviceCount struct {
	DeviceID string `json:"device_id"`
	Count    int    `json:"count"`
}

// SummaryStats is an aggregate view over a time window.
type SummaryStats struct {
	Since       time.Time     `json:"since"`
	Total       int           `json:"total"`
	ByApp       []AppCount    `json:"by_app"`
	ByDevice    []DeviceCount `json:"by_device"`
	Processed   int           `json:"processed"`
	Unprocessed int           `json:"unprocessed"`
}

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}
