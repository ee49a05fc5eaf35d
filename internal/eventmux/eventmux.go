// Package eventmux fans crossing and reset events out to any number of
// subscribers: the SSE endpoints, the crossing log and the broker publishers.
package eventmux

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/monitoring"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

//go:embed templates/*
var adminTemplateFS embed.FS

var tailTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/tail.html.tmpl"))

// Mux delivers every published event to every subscriber. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Mux struct {
	buffer int

	mu          sync.Mutex
	subscribers map[string]chan counter.Event
	closed      bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Mux with the given per-subscriber buffer. Non-positive
// values use DefaultBuffer.
func New(buffer int) *Mux {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Mux{
		buffer:      buffer,
		subscribers: make(map[string]chan counter.Event),
	}
}

// Subscribe creates a new channel receiving events. The ID is used to
// unsubscribe. After Close the returned channel is already closed.
func (m *Mux) Subscribe() (string, <-chan counter.Event) {
	id := uuid.NewString()
	ch := make(chan counter.Event, m.buffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Mux) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Publish sends ev to every subscriber without blocking. Its signature
// matches counter.Listener.
func (m *Mux) Publish(ev counter.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.published.Add(1)
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			m.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers.
func (m *Mux) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (m *Mux) Dropped() uint64 { return m.dropped.Load() }

// Published returns how many events were published.
func (m *Mux) Published() uint64 { return m.published.Load() }

// Close closes all subscriber channels. Later publishes are ignored.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Forward subscribes and calls fn for every event until ctx is done or the
// mux is closed. Errors from fn are logged and do not stop forwarding.
func (m *Mux) Forward(ctx context.Context, name string, fn func(context.Context, counter.Event) error) {
	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := fn(ctx, ev); err != nil {
				monitoring.Logf("%s: event %s (%s): %v", name, ev.ID, ev.Kind, err)
			}
		}
	}
}

// ServeSSE streams events to the client as Server-Sent Events until the
// request is cancelled or the mux is closed. Each event is sent with its kind
// as the SSE event name and its JSON encoding as data.
func (m *Mux) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				monitoring.Logf("encode event %s: %v", ev.ID, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// AttachAdminRoutes mounts a live event tail under /debug/.
func (m *Mux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("events", "live tail of crossing events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := struct {
			Subscribers int
			Published   uint64
			Dropped     uint64
		}{m.Subscribers(), m.Published(), m.Dropped()}
		if err := tailTemplate.Execute(w, data); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})
	debug.HandleSilentFunc("events-tail", m.ServeSSE)
}
