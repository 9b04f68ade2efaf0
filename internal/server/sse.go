package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// sseConnection represents an active SSE client.
type sseConnection struct {
	id            string
	closeCh       chan struct{}
	projectFilter string
}

// handleActivityStream streams activity entries via Server-Sent Events.
// Query parameters:
//   - project: only entries for this project
func (s *Server) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	conn := &sseConnection{
		id:            uuid.New().String()[:8],
		closeCh:       make(chan struct{}),
		projectFilter: r.URL.Query().Get("project"),
	}

	s.mu.Lock()
	s.connections[conn] = true
	s.mu.Unlock()

	sub := s.activity.Subscribe()
	defer func() {
		s.activity.Unsubscribe(sub)
		s.mu.Lock()
		delete(s.connections, conn)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": connected %s\n\n", conn.id)
	flusher.Flush()

	s.logger.Info("SSE client connected", "id", conn.id, "project", conn.projectFilter)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE client disconnected", "id", conn.id)
			return
		case <-conn.closeCh:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-sub:
			if !ok {
				return
			}
			if conn.projectFilter != "" && e.ProjectID != conn.projectFilter {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: activity\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
