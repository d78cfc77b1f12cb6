// Package websocket streams findings to connected clients as they are
// detected. The Broadcaster implements agent.Publisher; the Handler upgrades
// HTTP requests and drains one client's frames onto its connection.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tripwire/frostwatch/internal/agent"
)

// FindingMessage is the JSON envelope written to clients. Type is always
// "finding".
type FindingMessage struct {
	Type string        `json:"type"`
	Data agent.Finding `json:"data"`
}

// Client is one connected stream, valid until Unregister.
type Client struct {
	id       string
	minScore int
	send     chan []byte
	dropped  atomic.Int64
}

func (c *Client) ID() string { return c.id }

// Send delivers encoded frames. It is closed on Unregister or Close.
func (c *Client) Send() <-chan []byte { return c.send }

// Dropped returns how many frames were discarded because the buffer was
// full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Broadcaster fans findings out to registered clients. A full client buffer
// drops the frame for that client only; Publish never blocks the scanner.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	bufSize int
	logger  *slog.Logger
}

// NewBroadcaster returns a Broadcaster with per-client buffers of bufSize
// frames. Zero selects 64.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broadcaster{
		clients: make(map[string]*Client),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Register adds a client that receives findings scoring at least minScore.
// After Close it returns a client whose Send channel is already closed.
func (b *Broadcaster) Register(id string, minScore int) *Client {
	c := &Client{id: id, minScore: minScore, send: make(chan []byte, b.bufSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(c.send)
		return c
	}
	b.clients[id] = c
	return c
}

// Unregister removes id and closes its Send channel. Unknown ids are ignored.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		delete(b.clients, id)
		close(c.send)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish implements agent.Publisher.
func (b *Broadcaster) Publish(f agent.Finding) {
	raw, err := json.Marshal(FindingMessage{Type: "finding", Data: f})
	if err != nil {
		b.logger.Error("websocket broadcaster: marshal failed", slog.Any("error", err))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if f.Score < c.minScore {
			continue
		}
		select {
		case c.send <- raw:
		default:
			c.dropped.Add(1)
			b.logger.Warn("websocket broadcaster: client buffer full, dropping finding",
				slog.String("client_id", c.id),
				slog.String("path", f.Path))
		}
	}
}

// Close unregisters every client. Later Publish calls reach nobody.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, c := range b.clients {
		delete(b.clients, id)
		close(c.send)
	}
}
