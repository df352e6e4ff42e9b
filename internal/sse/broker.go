// Package sse implements a Server-Sent Events broker broadcasting index
// activity to connected clients.
package sse

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Event represents one SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// frame renders an event into its wire form. Events whose data cannot be
// marshalled are dropped.
func frame(ev Event) ([]byte, bool) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, false
	}
	return []byte("event: " + ev.Type + "\ndata: " + string(payload) + "\n\n"), true
}

// Broker fans index events out to SSE clients.
//
// A single loop goroutine owns the subscriber set and the graph throttle
// timestamp; every public method talks to it over a channel. Events are
// rendered to wire frames before they reach the loop, so the loop only
// moves bytes.
type Broker struct {
	graphMin time.Duration

	join       chan chan []byte
	leave      chan chan []byte
	frames     chan []byte
	nodeFrames chan []byte
	count      chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker with the given graph-event throttle interval.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:   graphThrottle,
		join:       make(chan chan []byte),
		leave:      make(chan chan []byte),
		frames:     make(chan []byte, 256),
		nodeFrames: make(chan []byte, 256),
		count:      make(chan chan int),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[chan []byte]struct{})
	var lastGraph time.Time

	fanout := func(raw []byte) {
		for ch := range subs {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip rather than block the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case ch := <-b.join:
			subs[ch] = struct{}{}

		case ch := <-b.leave:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case raw := <-b.frames:
			fanout(raw)

		case raw := <-b.nodeFrames:
			fanout(raw)
			if time.Since(lastGraph) >= b.graphMin {
				lastGraph = time.Now()
				if g, ok := frame(Event{Type: "graph.updated", Data: map[string]string{}}); ok {
					fanout(g)
				}
			}

		case resp := <-b.count:
			resp <- len(subs)
		}
	}
}

// Close stops the broker loop and closes all client channels. Safe to call
// more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. After Close the
// returned channel is already closed.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.join <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leave <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.count <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	raw, ok := frame(event)
	if !ok {
		return
	}
	select {
	case b.frames <- raw:
	case <-b.stopped:
	}
}

// PublishNodeEvent publishes a node change ("indexed" or "removed") plus a
// throttled graph.updated event.
func (b *Broker) PublishNodeEvent(kind, id string) {
	switch kind {
	case "indexed", "removed":
	default:
		return
	}
	if b.closed.Load() {
		return
	}
	raw, ok := frame(Event{Type: "node." + kind, Data: map[string]string{"id": id}})
	if !ok {
		return
	}
	select {
	case b.nodeFrames <- raw:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
