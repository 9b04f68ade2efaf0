// Package server exposes the daemon HTTP API: trigger-execution ingest from
// the remote backend, and the activity read/stream surface for the desktop
// shell.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/eigent-ai/eigentd/internal/activity"
	"github.com/eigent-ai/eigentd/internal/chat"
	"github.com/eigent-ai/eigentd/internal/coordinator"
	"github.com/eigent-ai/eigentd/internal/project"
)

// Server is the daemon HTTP server.
type Server struct {
	addr     string
	projects *project.Store
	chats    *chat.Stores
	activity *activity.Log
	coord    *coordinator.Coordinator
	logger   *log.Logger
	srv      *http.Server
	wsHub    *WebSocketHub

	// SSE connection tracking
	mu          sync.Mutex
	connections map[*sseConnection]bool
	activitySub chan activity.Entry
}

// Config holds server configuration.
type Config struct {
	Addr        string
	Projects    *project.Store
	Chats       *chat.Stores
	Activity    *activity.Log
	Coordinator *coordinator.Coordinator
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		addr:        cfg.Addr,
		projects:    cfg.Projects,
		chats:       cfg.Chats,
		activity:    cfg.Activity,
		coord:       cfg.Coordinator,
		logger:      log.NewWithOptions(os.Stderr, log.Options{Prefix: "http"}),
		wsHub:       NewWebSocketHub(),
		connections: make(map[*sseConnection]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("POST /api/projects/{id}/queue", s.handleEnqueue)
	mux.HandleFunc("GET /api/activity", s.handleActivity)
	mux.HandleFunc("GET /api/activity/stream", s.handleActivityStream)
	mux.HandleFunc("GET /api/activity/ws", s.handleActivityWS)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler (for tests).
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start runs the server, feeding the websocket hub from the activity log.
func (s *Server) Start() error {
	go s.wsHub.Run()

	s.mu.Lock()
	s.activitySub = s.activity.Subscribe()
	s.mu.Unlock()
	go s.pumpActivity(s.activitySub)

	s.logger.Info("HTTP server starting", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, closing SSE connections and the
// activity pump first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")

	s.mu.Lock()
	for conn := range s.connections {
		close(conn.closeCh)
		delete(s.connections, conn)
	}
	sub := s.activitySub
	s.activitySub = nil
	s.mu.Unlock()

	if sub != nil {
		s.activity.Unsubscribe(sub)
	}
	return s.srv.Shutdown(ctx)
}

// pumpActivity forwards activity entries to websocket clients until the
// subscription is closed on shutdown.
func (s *Server) pumpActivity(ch chan activity.Entry) {
	for e := range ch {
		s.wsHub.Broadcast(WSMessage{Type: "activity", Data: e})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

// statusResponse is the GET /api/status payload.
type statusResponse struct {
	ActiveTasks []coordinator.ActiveTask `json:"active_tasks"`
	Projects    int                      `json:"projects"`
	QueuedTotal int                      `json:"queued_total"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	projects := s.projects.AllProjects()
	queued := 0
	for _, p := range projects {
		queued += len(p.QueuedMessages)
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ActiveTasks: s.coord.ActiveTasks(),
		Projects:    len(projects),
		QueuedTotal: queued,
	})
}

// projectSummary is the GET /api/projects row shape.
type projectSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Queued     int    `json:"queued"`
	Processing int    `json:"processing"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects := s.projects.AllProjects()
	out := make([]projectSummary, 0, len(projects))
	for _, p := range projects {
		summary := projectSummary{ID: p.ID, Name: p.Name, Queued: len(p.QueuedMessages)}
		for _, m := range p.QueuedMessages {
			if m.Processing {
				summary.Processing++
			}
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

// createProjectRequest is the POST /api/projects body.
type createProjectRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	p := s.projects.AddProject(req.ID, req.Name)
	s.chats.Ensure(p.ID)
	writeJSON(w, http.StatusCreated, p)
}

// enqueueRequest is the trigger-execution push payload from the backend.
type enqueueRequest struct {
	TaskID        string   `json:"task_id"`
	Content       string   `json:"content"`
	Attachments   []string `json:"attachments"`
	ExecutionID   string   `json:"execution_id"`
	TriggerTaskID string   `json:"trigger_task_id"`
	TriggerID     string   `json:"trigger_id"`
	TriggerName   string   `json:"trigger_name"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if s.projects.GetProject(projectID) == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown project %q", projectID))
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg := &project.QueuedMessage{
		TaskID:        req.TaskID,
		Content:       req.Content,
		Attachments:   req.Attachments,
		ExecutionID:   req.ExecutionID,
		TriggerTaskID: req.TriggerTaskID,
		TriggerID:     req.TriggerID,
		TriggerName:   req.TriggerName,
	}
	if err := s.projects.EnqueueMessage(projectID, msg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.ExecutionID != "" {
		s.activity.Add(activity.Entry{
			Type:        activity.TriggerExecuted,
			Message:     fmt.Sprintf("Trigger %q fired", req.TriggerName),
			ProjectID:   projectID,
			TriggerID:   req.TriggerID,
			TriggerName: req.TriggerName,
			ExecutionID: req.ExecutionID,
			Metadata:    map[string]any{"status": "queued"},
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": msg.TaskID})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	count := 0
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			count = n
		}
	}

	var entries []*activity.Entry
	if projectID := r.URL.Query().Get("project"); projectID != "" {
		entries = s.activity.ForProject(projectID, count)
	} else {
		entries = s.activity.Recent(count)
	}
	if entries == nil {
		entries = []*activity.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
