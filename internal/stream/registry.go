// Package stream tracks open streaming connections from chat tasks to the
// execution backend, so the coordinator can detect and tear down leftovers
// from completed runs before claiming new work.
package stream

import (
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// Connection is one open stream for a chat task. Closing is idempotent.
type Connection struct {
	TaskID string

	once    sync.Once
	closeFn func()
}

// Close tears down the underlying stream.
func (c *Connection) Close() {
	c.once.Do(func() {
		if c.closeFn != nil {
			c.closeFn()
		}
	})
}

// Registry tracks active connections keyed by chat task id. One connection
// per task: opening a second for the same task closes the first.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*Connection
	logger *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		logger: log.NewWithOptions(io.Discard, log.Options{Prefix: "stream"}),
	}
}

// SetLogger replaces the discard logger (used by the daemon).
func (r *Registry) SetLogger(logger *log.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Open registers a connection for a task. closeFn tears down the transport
// and is invoked at most once.
func (r *Registry) Open(taskID string, closeFn func()) *Connection {
	conn := &Connection{TaskID: taskID, closeFn: closeFn}

	r.mu.Lock()
	prev := r.conns[taskID]
	r.conns[taskID] = conn
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return conn
}

// Release removes a task's connection without closing it (natural stream
// end; the transport is already gone).
func (r *Registry) Release(taskID string) {
	r.mu.Lock()
	delete(r.conns, taskID)
	r.mu.Unlock()
}

// HasActiveConnection reports whether any of the given tasks holds an open
// connection.
func (r *Registry) HasActiveConnection(taskIDs []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range taskIDs {
		if _, ok := r.conns[id]; ok {
			return true
		}
	}
	return false
}

// CloseConnectionsForTasks force-closes and removes connections for the
// given tasks.
func (r *Registry) CloseConnectionsForTasks(taskIDs []string) {
	var closing []*Connection
	r.mu.Lock()
	for _, id := range taskIDs {
		if conn, ok := r.conns[id]; ok {
			closing = append(closing, conn)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, conn := range closing {
		r.logger.Warn("force-closing stale stream", "task", conn.TaskID)
		conn.Close()
	}
}

// ActiveCount returns the number of open connections.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
