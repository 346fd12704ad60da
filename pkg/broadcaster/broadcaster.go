// Package broadcaster fans integrity events out to websocket observers.
package broadcaster

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Broadcaster manages a set of WebSocket connections and broadcasts messages
// to them. Producers never block: a full broadcast channel drops the message.
type Broadcaster struct {
	logger       *zap.Logger
	clients      map[*websocket.Conn]bool
	mu           sync.Mutex
	broadcastCh  chan []byte
	registerCh   chan *websocket.Conn
	unregisterCh chan *websocket.Conn
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		logger:       logger.Named("broadcaster"),
		clients:      make(map[*websocket.Conn]bool),
		broadcastCh:  make(chan []byte, 1024),
		registerCh:   make(chan *websocket.Conn, 16),
		unregisterCh: make(chan *websocket.Conn, 16),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Run starts the broadcaster's main loop.
func (b *Broadcaster) Run() {
	defer close(b.doneCh)
	b.logger.Info("Broadcaster started")
	for {
		select {
		case <-b.stopCh:
			b.mu.Lock()
			for client := range b.clients {
				client.Close() //nolint:errcheck
				delete(b.clients, client)
			}
			b.mu.Unlock()
			b.logger.Info("Broadcaster stopped")
			return

		case client := <-b.registerCh:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
			b.logger.Info("Observer connected", zap.String("remoteAddr", client.RemoteAddr().String()))

		case client := <-b.unregisterCh:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				client.Close() //nolint:errcheck
				b.logger.Info("Observer disconnected", zap.String("remoteAddr", client.RemoteAddr().String()))
			}
			b.mu.Unlock()

		case message := <-b.broadcastCh:
			b.mu.Lock()
			for client := range b.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					b.logger.Warn("Failed to write to observer",
						zap.Error(err),
						zap.String("remoteAddr", client.RemoteAddr().String()))
					delete(b.clients, client)
					client.Close() //nolint:errcheck
				}
			}
			b.mu.Unlock()
		}
	}
}

// Stop shuts the loop down and closes every client.
func (b *Broadcaster) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

// Register adds a new client to the broadcaster.
func (b *Broadcaster) Register(client *websocket.Conn) {
	b.registerCh <- client
}

// Unregister removes a client from the broadcaster.
func (b *Broadcaster) Unregister(client *websocket.Conn) {
	select {
	case b.unregisterCh <- client:
	default:
		b.mu.Lock()
		delete(b.clients, client)
		client.Close() //nolint:errcheck
		b.mu.Unlock()
	}
}

// Broadcast sends a message to all registered clients, dropping it if the
// loop is backed up.
func (b *Broadcaster) Broadcast(message []byte) {
	select {
	case b.broadcastCh <- message:
	default:
		b.logger.Warn("Broadcast channel is full, dropping message")
	}
}
