package device

import (
	"sort"
	"sync"
	"time"

	"agenthub/internal/eventbus"
	logx "agenthub/pkg/logx"
)

// Registry tracks live device connections and routes messages to them.
//
// It is the delivery sink of the notification pipeline: delivery is
// best-effort, a failed write counts as a disconnect, and partial failure
// of one device never blocks the rest.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Conn
	infos map[string]*Info

	log logx.Logger
	bus eventbus.Bus
}

func NewRegistry(log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		conns: map[string]Conn{},
		infos: map[string]*Info{},
		log:   log,
		bus:   bus,
	}
}

// Connect registers a device connection. A prior entry for the same id is
// overwritten (last-connect-wins); its transport is closed.
func (r *Registry) Connect(conn Conn, deviceID, name, platform string, capabilities []string) {
	now := time.Now()

	r.mu.Lock()
	old := r.conns[deviceID]
	r.conns[deviceID] = conn
	r.infos[deviceID] = &Info{
		DeviceID:     deviceID,
		Name:         name,
		Platform:     platform,
		Capabilities: capabilities,
		ConnectedAt:  now,
		LastSeen:     now,
	}
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	r.log.Info("device connected", logx.String("device", deviceID), logx.String("platform", platform))
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeDeviceConnected, Data: map[string]string{
			"device_id": deviceID,
			"platform":  platform,
		}})
	}
}

// Disconnect removes the transport handle but keeps last-known info for
// listing.
func (r *Registry) Disconnect(deviceID string) {
	r.mu.Lock()
	conn, had := r.conns[deviceID]
	delete(r.conns, deviceID)
	if info, ok := r.infos[deviceID]; ok {
		info.LastSeen = time.Now()
	}
	r.mu.Unlock()

	if !had {
		return
	}
	_ = conn.Close()

	r.log.Info("device disconnected", logx.String("device", deviceID))
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeDeviceDisconnected, Data: map[string]string{
			"device_id": deviceID,
		}})
	}
}

// Touch bumps last-seen on any traffic from the device.
func (r *Registry) Touch(deviceID string) {
	r.mu.Lock()
	if info, ok := r.infos[deviceID]; ok {
		info.LastSeen = time.Now()
	}
	r.mu.Unlock()
}

// Get returns last-known info for a device.
func (r *Registry) Get(deviceID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[deviceID]
	if !ok {
		return Info{}, false
	}
	out := *info
	_, out.Connected = r.conns[deviceID]
	return out, true
}

// List returns device infos, optionally restricted to connected ones.
// Results are sorted by device id for stable output.
func (r *Registry) List(connectedOnly bool) []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.infos))
	for id, info := range r.infos {
		_, connected := r.conns[id]
		if connectedOnly && !connected {
			continue
		}
		cp := *info
		cp.Connected = connected
		out = append(out, cp)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// IsConnected reports whether a device currently has a transport handle.
func (r *Registry) IsConnected(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[deviceID]
	return ok
}

// SendTo delivers one message. It returns false when the device is not
// connected; a transport-level failure is treated as a disconnect (the dead
// connection is pruned) and also returns false.
func (r *Registry) SendTo(deviceID string, msg Message) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	r.mu.Lock()
	conn, ok := r.conns[deviceID]
	r.mu.Unlock()
	if !ok {
		r.log.Debug("device not connected", logx.String("device", deviceID))
		return false
	}

	if err := conn.WriteJSON(msg); err != nil {
		r.log.Warn("send failed; pruning device", logx.String("device", deviceID), logx.Err(err))
		r.Disconnect(deviceID)
		return false
	}

	r.Touch(deviceID)
	return true
}

// Broadcast delivers a message to every connected device except the
// excluded ids. The result maps device id to delivery success; it is empty
// (never nil) with zero connected devices.
func (r *Registry) Broadcast(msg Message, exclude []string) map[string]bool {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		if !skip[id] {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	results := make(map[string]bool, len(ids))
	for _, id := range ids {
		results[id] = r.SendTo(id, msg)
	}
	return results
}

// Push routes a push request: targeted when a device id is given, broadcast
// otherwise. Returns the per-device success map.
func (r *Registry) Push(req PushRequest) map[string]bool {
	msg := Message{
		Type: "notification",
		Payload: map[string]any{
			"title":      req.Title,
			"body":       req.Body,
			"urgency":    req.Urgency,
			"rationale":  req.Rationale,
			"app_source": req.AppSource,
			"actions":    req.Actions,
		},
	}

	if req.DeviceID != "" {
		return map[string]bool{req.DeviceID: r.SendTo(req.DeviceID, msg)}
	}
	return r.Broadcast(msg, nil)
}

// CloseAll disconnects every device. Used by the shutdown sweep.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Disconnect(id)
	}
}
