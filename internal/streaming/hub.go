package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
)

const (
	clientBufferSize      = 10
	broadcasterBufferSize = 100

	// criticalSendTimeout bounds how long a complete/error event may wait for buffer space
	criticalSendTimeout = 100 * time.Millisecond
	criticalClientWait  = 50 * time.Millisecond
	shutdownDelay       = 100 * time.Millisecond
)

// Client represents a connected SSE client
type Client struct {
	Events chan SSEEvent
}

// NewClient creates a new SSE client
func NewClient() *Client {
	return &Client{
		Events: make(chan SSEEvent, clientBufferSize),
	}
}

// SessionBroadcaster fans the events of one import session out to its clients
type SessionBroadcaster struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	events   chan SSEEvent
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  bool
	log      zerolog.Logger
}

// NewSessionBroadcaster creates a new session broadcaster. It stops when ctx
// is cancelled, after a critical event, or on Stop.
func NewSessionBroadcaster(ctx context.Context) *SessionBroadcaster {
	log := logger.FromContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	return &SessionBroadcaster{
		clients: make(map[*Client]bool),
		events:  make(chan SSEEvent, broadcasterBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}
}

// Register adds a client to the broadcaster
func (b *SessionBroadcaster) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	b.log.Debug().Int("clients", len(b.clients)).Msg("sse client registered")
}

// Unregister removes a client from the broadcaster
func (b *SessionBroadcaster) Unregister(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		// Stop() already closed the channels of stopped broadcasters
		if !b.stopped {
			close(client.Events)
		}
		b.log.Debug().Int("clients", len(b.clients)).Msg("sse client unregistered")
	}
}

// ClientCount returns the number of connected clients
func (b *SessionBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast queues an event for all registered clients. Non-critical events
// are dropped when the queue is full.
func (b *SessionBroadcaster) Broadcast(event SSEEvent) {
	// the read lock keeps Stop from closing b.events mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return
	}

	if event.IsCritical() {
		select {
		case b.events <- event:
		case <-b.ctx.Done():
		case <-time.After(criticalSendTimeout):
			b.log.Error().Str("event", string(event.Type)).Int("capacity", cap(b.events)).
				Msg("failed to queue critical event, clients may hang")
		}
		return
	}

	select {
	case b.events <- event:
	case <-b.ctx.Done():
	default:
		b.log.Warn().Str("event", string(event.Type)).Msg("event queue full, dropping event")
	}
}

// Stop stops the broadcaster and closes every client channel
func (b *SessionBroadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		b.stopped = true
		for client := range b.clients {
			close(client.Events)
			delete(b.clients, client)
		}
		close(b.events)
		b.mu.Unlock()
	})
}

// Start starts delivering queued events to the clients
func (b *SessionBroadcaster) Start() {
	go func() {
		defer b.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case event, ok := <-b.events:
				if !ok {
					return
				}
				b.broadcastToClients(event)

				// the stream ends after complete/error; give clients time to read it
				if event.IsCritical() {
					time.Sleep(shutdownDelay)
					return
				}
			}
		}
	}()
}

// broadcastToClients sends an event to all registered clients
func (b *SessionBroadcaster) broadcastToClients(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if event.IsCritical() {
			select {
			case client.Events <- event:
			case <-time.After(criticalClientWait):
				b.log.Error().Str("event", string(event.Type)).Msg("failed to deliver critical event to client")
			}
			continue
		}

		// slow clients miss non-critical events instead of blocking the others
		select {
		case client.Events <- event:
		default:
			b.log.Warn().Str("event", string(event.Type)).Msg("client channel full, skipping event")
		}
	}
}

// StreamHub manages broadcasters for multiple import sessions
type StreamHub struct {
	mu           sync.RWMutex
	broadcasters map[string]*SessionBroadcaster
}

// NewStreamHub creates a new stream hub
func NewStreamHub() *StreamHub {
	return &StreamHub{
		broadcasters: make(map[string]*SessionBroadcaster),
	}
}

// Register registers a client for a session and returns the client
func (h *StreamHub) Register(ctx context.Context, sessionID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	client := NewClient()

	broadcaster, exists := h.broadcasters[sessionID]
	if !exists || broadcaster.isStopped() {
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With().Str("session_id", sessionID).Logger())
		broadcaster = NewSessionBroadcaster(ctx)
		h.broadcasters[sessionID] = broadcaster
		broadcaster.Start()
	}

	broadcaster.Register(client)
	return client
}

// Unregister removes a client from a session
func (h *StreamHub) Unregister(sessionID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	broadcaster, exists := h.broadcasters[sessionID]
	if !exists {
		return
	}

	broadcaster.Unregister(client)

	if broadcaster.ClientCount() == 0 {
		broadcaster.Stop()
		delete(h.broadcasters, sessionID)
	}
}

// Broadcast sends an event to all clients of a session. Sessions nobody
// listens to are ignored.
func (h *StreamHub) Broadcast(sessionID string, event SSEEvent) {
	h.mu.RLock()
	broadcaster, exists := h.broadcasters[sessionID]
	h.mu.RUnlock()

	if !exists {
		return
	}
	broadcaster.Broadcast(event)
}

// IsRunning checks if a session broadcaster exists
func (h *StreamHub) IsRunning(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.broadcasters[sessionID]
	return exists
}

func (b *SessionBroadcaster) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}
