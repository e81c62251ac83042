// Package httpapi exposes the conversation engine over plain HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kayz/maniflow/internal/flow"
	"github.com/kayz/maniflow/internal/llm"
	"github.com/kayz/maniflow/internal/session"
)

// Headers carrying session identity on the plain-text endpoints.
const (
	HeaderSessionID = "App-Session-Id"
	HeaderIntent    = "App-Intent"
)

// Conversation is the slice of the engine the server needs.
// *flow.Engine implements it.
type Conversation interface {
	HandleChat(ctx context.Context, message, sessionID string) flow.ChatResult
	StartFromQuery(ctx context.Context, query, reuseSessionID string) flow.ChatResult
	HandleReply(ctx context.Context, sessionID, userInput string) (string, bool)
	Classify(ctx context.Context, text string) llm.Intent
	Store() session.Store
}

type Server struct {
	engine    Conversation
	startedAt time.Time
}

func NewServer(engine Conversation) *Server {
	return &Server{
		engine:    engine,
		startedAt: time.Now().UTC(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/get_manifests", s.handleGetManifests)
	mux.HandleFunc("/reply", s.handleReply)
	mux.HandleFunc("/classify", s.handleClassify)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/reset_session/", s.handleResetSession)
	mux.HandleFunc("/reset_all_sessions", s.handleResetAll)
	return mux
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Intent           string         `json:"intent"`
	Action           string         `json:"action"`
	SuggestedPayload map[string]any `json:"suggested_payload,omitempty"`
	Reply            string         `json:"reply"`
	SessionID        string         `json:"session_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	res := s.engine.HandleChat(r.Context(), req.Message, strings.TrimSpace(req.SessionID))
	writeJSON(w, http.StatusOK, chatResponse{
		Intent:           string(res.Intent),
		Action:           string(res.Action),
		SuggestedPayload: res.SuggestedPayload,
		Reply:            res.Reply,
		SessionID:        res.SessionID,
	})
}

type manifestsRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleGetManifests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req manifestsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	res := s.engine.StartFromQuery(r.Context(), req.Query, strings.TrimSpace(r.Header.Get(HeaderSessionID)))

	w.Header().Set(HeaderIntent, string(res.Intent))
	if res.SessionID != "" {
		w.Header().Set(HeaderSessionID, res.SessionID)
	}
	writeText(w, res.Reply)
}

type replyRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	text, done := s.engine.HandleReply(r.Context(), req.SessionID, req.Message)
	if done {
		s.engine.Store().End(req.SessionID)
	} else {
		w.Header().Set(HeaderSessionID, req.SessionID)
	}
	writeText(w, text)
}

type classifyRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"intent": string(s.engine.Classify(r.Context(), req.Query)),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"started_at": s.startedAt.Format(time.RFC3339),
		"uptime_sec": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	ids := s.engine.Store().ListIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_sessions": ids})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/reset_session/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id is required"})
		return
	}

	s.engine.Store().End(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "session_id": id})
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	s.engine.Store().Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
