package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"agenthub/internal/device"
	"agenthub/internal/eventbus"
	"agenthub/internal/processor"
	"agenthub/internal/scoring"
	"agenthub/internal/session"
	"agenthub/internal/store"
	logx "agenthub/pkg/logx"
)

func (s *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "agenthub",
		"status":  "running",
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"sessions":          len(s.deps.Sessions.List()),
		"connected_devices": len(s.deps.Devices.List(true)),
	})
}

type createSessionRequest struct {
	Bundle       string `json:"bundle"`
	SessionID    string `json:"session_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxTokens    int64  `json:"max_tokens,omitempty"`
}

func (s *Service) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Bundle == "" {
		writeError(w, http.StatusBadRequest, "bundle is required")
		return
	}

	id, err := s.deps.Sessions.Create(r.Context(), session.CreateParams{
		Bundle:       req.Bundle,
		SessionID:    req.SessionID,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, session.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	info, _ := s.deps.Sessions.Info(id)
	writeJSON(w, http.StatusCreated, info)
}

func (s *Service) handleSessionList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.deps.Sessions.List()})
}

func (s *Service) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Sessions.Info(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Sessions.Stop(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "session_id": id})
}

type executeRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream,omitempty"`
}

func (s *Service) handleSessionExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	if req.Stream {
		s.executeStreaming(w, r, id, req.Prompt)
		return
	}

	resp, err := s.deps.Sessions.Execute(r.Context(), id, req.Prompt)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "response": resp})
}

// executeStreaming writes newline-delimited JSON chunks, flushing each one
// so clients see tokens as they arrive.
func (s *Service) executeStreaming(w http.ResponseWriter, r *http.Request, id, prompt string) {
	stream, err := s.deps.Sessions.ExecuteStream(r.Context(), id, prompt)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for {
		chunk, ok := stream.Next()
		if !ok {
			break
		}
		if err := enc.Encode(map[string]string{"chunk": chunk}); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := stream.Err(); err != nil {
		_ = enc.Encode(map[string]string{"error": err.Error()})
	} else {
		_ = enc.Encode(map[string]string{"done": "true"})
	}
	if flusher != nil {
		flusher.Flush()
	}
}

type injectRequest struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

func (s *Service) handleSessionInject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req injectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}

	if err := s.deps.Sessions.InjectContext(r.Context(), id, req.Role, req.Content); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "injected", "session_id": id})
}

type ingestRequest struct {
	DeviceID         string          `json:"device_id"`
	AppID            string          `json:"app_id"`
	AppName          string          `json:"app_name,omitempty"`
	Title            string          `json:"title"`
	Body             string          `json:"body,omitempty"`
	Timestamp        string          `json:"timestamp,omitempty"`
	Sender           string          `json:"sender,omitempty"`
	ConversationHint string          `json:"conversation_hint,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.DeviceID == "" || req.AppID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "device_id, app_id and title are required")
		return
	}

	if !s.limits.allow(req.DeviceID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	id, err := s.ingest(r, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ingested",
		"id":        id,
		"device_id": req.DeviceID,
		"app_id":    req.AppID,
	})
}

// ingest stores the notification and hands it to the triage worker. A full
// queue is not an error for the caller; the worker's periodic sweep will
// pick the row up.
func (s *Service) ingest(r *http.Request, req ingestRequest) (int64, error) {
	ts := time.Now()
	if req.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Timestamp); err == nil {
			ts = parsed
		}
	}

	id, err := s.deps.Store.Store(r.Context(), store.Notification{
		DeviceID:         req.DeviceID,
		AppID:            req.AppID,
		AppName:          req.AppName,
		Title:            req.Title,
		Body:             req.Body,
		Sender:           req.Sender,
		ConversationHint: req.ConversationHint,
		Timestamp:        ts,
		Raw:              req.Raw,
	})
	if err != nil {
		return 0, err
	}

	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationIngested, Data: map[string]any{
			"id":        id,
			"device_id": req.DeviceID,
			"app_id":    req.AppID,
		}})
	}

	if err := s.deps.Processor.Enqueue(id); err != nil {
		if errors.Is(err, processor.ErrQueueFull) {
			s.log.Warn("triage queue full; deferring to sweep", logx.Int64("id", id))
		} else {
			s.log.Warn("enqueue failed", logx.Int64("id", id), logx.Err(err))
		}
	}
	return id, nil
}

type pushRequest struct {
	DeviceID  string              `json:"device_id,omitempty"`
	Title     string              `json:"title"`
	Body      string              `json:"body"`
	Urgency   string              `json:"urgency,omitempty"`
	Rationale string              `json:"rationale,omitempty"`
	AppSource string              `json:"app_source,omitempty"`
	Actions   []map[string]string `json:"actions,omitempty"`
}

func (s *Service) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Urgency == "" {
		req.Urgency = "normal"
	}

	results := s.deps.Devices.Push(device.PushRequest{
		DeviceID:  req.DeviceID,
		Title:     req.Title,
		Body:      req.Body,
		Urgency:   req.Urgency,
		Rationale: req.Rationale,
		AppSource: req.AppSource,
		Actions:   req.Actions,
	})

	sent := 0
	for _, ok := range results {
		if ok {
			sent++
		}
	}
	status := "sent"
	if sent == 0 {
		status = "no_devices"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"sent_count":    sent,
		"total_devices": len(results),
		"results":       results,
	})
}

func (s *Service) handleRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filters{
		Limit:    50,
		DeviceID: q.Get("device_id"),
		AppID:    q.Get("app_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = t
		}
	}
	if q.Get("unprocessed") == "true" {
		f.UnprocessedOnly = true
	}

	notifs, err := s.deps.Store.GetRecent(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifs, "count": len(notifs)})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	stats, err := s.deps.Store.SummaryStats(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Service) handleDigest(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	text, err := store.Digest(r.Context(), s.deps.Store, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"digest": text, "since": since.Format(time.RFC3339)}

	// ?broadcast=true additionally fans the digest out to connected devices.
	if r.URL.Query().Get("broadcast") == "true" {
		if s.deps.Digest == nil {
			writeError(w, http.StatusConflict, "digest broadcasts are disabled")
			return
		}
		sent, err := s.deps.Digest.Send(r.Context(), since)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["sent"] = sent
	}
	writeJSON(w, http.StatusOK, resp)
}

type scoringUpdateRequest struct {
	VIPSenders      []string `json:"vip_senders,omitempty"`
	UserAliases     []string `json:"user_aliases,omitempty"`
	UrgentKeywords  []string `json:"urgent_keywords,omitempty"`
	ActionKeywords  []string `json:"action_keywords,omitempty"`
	PriorityApps    []string `json:"priority_apps,omitempty"`
	LowPriorityApps []string `json:"low_priority_apps,omitempty"`

	PushThreshold      *float64 `json:"push_threshold,omitempty"`
	SummarizeThreshold *float64 `json:"summarize_threshold,omitempty"`
	UseLLM             *bool    `json:"use_llm,omitempty"`
}

func (s *Service) handleScoringUpdate(w http.ResponseWriter, r *http.Request) {
	var req scoringUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// Start from the live rules so a partial update leaves the rest intact.
	cfg := s.deps.Processor.Rules()
	if req.VIPSenders != nil {
		cfg.VIPSenders = req.VIPSenders
	}
	if req.UserAliases != nil {
		cfg.UserAliases = req.UserAliases
	}
	if req.UrgentKeywords != nil {
		cfg.UrgentKeywords = req.UrgentKeywords
	}
	if req.ActionKeywords != nil {
		cfg.ActionKeywords = req.ActionKeywords
	}
	if req.PriorityApps != nil {
		cfg.PriorityApps = req.PriorityApps
	}
	if req.LowPriorityApps != nil {
		cfg.LowPriorityApps = req.LowPriorityApps
	}
	if req.PushThreshold != nil {
		cfg.PushThreshold = *req.PushThreshold
	}
	if req.SummarizeThreshold != nil {
		cfg.SummarizeThreshold = *req.SummarizeThreshold
	}
	s.deps.Processor.UpdateRules(cfg)
	if req.UseLLM != nil {
		s.deps.Processor.EnableLLM(*req.UseLLM)
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "rules": rulesView(s.deps.Processor.Rules())})
}

func (s *Service) handleScoringGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rulesView(s.deps.Processor.Rules()))
}

func rulesView(cfg scoring.Config) map[string]any {
	return map[string]any{
		"vip_senders":         cfg.VIPSenders,
		"user_aliases":        cfg.UserAliases,
		"urgent_keywords":     cfg.UrgentKeywords,
		"action_keywords":     cfg.ActionKeywords,
		"priority_apps":       cfg.PriorityApps,
		"low_priority_apps":   cfg.LowPriorityApps,
		"push_threshold":      cfg.PushThreshold,
		"summarize_threshold": cfg.SummarizeThreshold,
	}
}

func (s *Service) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	connectedOnly := r.URL.Query().Get("connected") == "true"
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.deps.Devices.List(connectedOnly)})
}
