// Package push implements the dashboard's server-sent-event channel:
// connect/heartbeat/overview_update/log_tail framing, fanned out to every
// connected subscriber. Adapted from a channel-based hub's
// register/unregister/broadcast discipline, with the duplex websocket
// connection each client held replaced by a one-way http.ResponseWriter
// plus http.Flusher, since this spec's event stream is unidirectional.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const heartbeatInterval = 15 * time.Second

type client struct {
	id   int
	send chan []byte
}

// Channel owns the set of connected SSE subscribers and fans frames out to
// all of them.
type Channel struct {
	mu        sync.RWMutex
	clients   map[int]*client
	nextID    int
	broadcast chan []byte
	logDir    string
}

// New returns a Channel whose log_tail subscriptions are resolved against
// logDir (the broker/reviewer log namespace root). An empty logDir disables
// the tail query parameter: ServeHTTP serves connect/heartbeat/
// overview_update frames only.
func New(logDir string) *Channel {
	return &Channel{
		clients:   map[int]*client{},
		broadcast: make(chan []byte, 256),
		logDir:    logDir,
	}
}

// Run owns the client map for the process lifetime; call it once in a
// goroutine at startup.
func (c *Channel) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			for _, cl := range c.clients {
				close(cl.send)
			}
			c.clients = map[int]*client{}
			c.mu.Unlock()
			return
		case msg := <-c.broadcast:
			c.mu.RLock()
			for _, cl := range c.clients {
				select {
				case cl.send <- msg:
				default:
					slog.Warn("push: dropping frame for slow subscriber", "client_id", cl.id)
				}
			}
			c.mu.RUnlock()
		}
	}
}

// Broadcast enqueues an event frame for every connected subscriber.
func (c *Channel) Broadcast(event string, data []byte) {
	frame := formatSSE(event, data)
	select {
	case c.broadcast <- frame:
	default:
		slog.Warn("push: broadcast buffer full, dropping frame", "event", event)
	}
}

func formatSSE(event string, data []byte) []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

// ServeHTTP upgrades the connection to a text/event-stream and streams
// frames until the client disconnects.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	cl := c.register()
	defer c.unregister(cl.id)

	if tail := r.URL.Query().Get("tail"); tail != "" {
		path, err := c.resolveTailPath(tail)
		if err != nil {
			slog.Warn("push: rejecting tail request", "tail", tail, "err", err)
		} else {
			go c.TailLog(r.Context(), path)
		}
	}

	w.Write(formatSSE("connected", []byte(`{}`)))
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write(formatSSE("heartbeat", []byte(`{}`))); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-cl.send:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// resolveTailPath joins name onto the log namespace root, rejecting any
// path that escapes it, the same containment check static.go applies to
// asset requests.
func (c *Channel) resolveTailPath(name string) (string, error) {
	if c.logDir == "" {
		return "", fmt.Errorf("log tailing is disabled: no log directory configured")
	}
	root, err := filepath.Abs(c.logDir)
	if err != nil {
		return "", err
	}
	root = filepath.Clean(root)

	requested := filepath.Join(root, filepath.Clean("/"+name))
	if requested != root && !strings.HasPrefix(requested, root+string(filepath.Separator)) {
		return "", fmt.Errorf("tail path %q escapes log directory", name)
	}
	return requested, nil
}

func (c *Channel) register() *client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	cl := &client{id: c.nextID, send: make(chan []byte, 16)}
	c.clients[cl.id] = cl
	return cl
}

func (c *Channel) unregister(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[id]; ok {
		delete(c.clients, id)
		close(cl.send)
	}
}
