package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/xtrntr/cryptop2p/internal/models"
)

const writeWait = 10 * time.Second

// OrderSource lists the orders pushed to feed subscribers.
type OrderSource interface {
	OpenOrders(ctx context.Context) ([]models.Order, error)
}

type wsClient struct {
	conn *websocket.Conn
}

// Feed pushes the ACTIVE order list to websocket subscribers when a client
// connects, when an order changes and on a fixed interval.
type Feed struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	wake chan struct{}
}

// NewFeed creates an idle feed. Run drives the pushes.
func NewFeed() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is handled by the router
			},
		},
		clients: make(map[*wsClient]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Notify schedules a push. It never blocks.
func (f *Feed) Notify() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Run pushes snapshots from source until ctx is done, then closes every
// subscriber.
func (f *Feed) Run(ctx context.Context, source OrderSource, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.closeAll()
			return nil
		case <-ticker.C:
		case <-f.wake:
		}
		f.broadcast(ctx, source)
	}
}

// Subscribers returns the number of connected clients.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Feed) broadcast(ctx context.Context, source OrderSource) {
	if f.Subscribers() == 0 {
		return
	}

	orders, err := source.OpenOrders(ctx)
	if err != nil {
		log.WithError(err).Warn("feed: failed to load open orders")
		return
	}
	data, err := json.Marshal(struct {
		Orders []models.Order `json:"orders"`
	}{orders})
	if err != nil {
		log.WithError(err).Warn("feed: failed to marshal open orders")
		return
	}

	f.mu.RLock()
	clients := make([]*wsClient, 0, len(f.clients))
	for client := range f.clients {
		clients = append(clients, client)
	}
	f.mu.RUnlock()

	for _, client := range clients {
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.WithError(err).Debug("feed: dropping subscriber")
			f.remove(client)
		}
	}
}

// ServeHTTP upgrades the connection and keeps it subscribed until the peer
// goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("feed: failed to upgrade connection")
		return
	}

	client := &wsClient{conn: conn}
	f.mu.Lock()
	f.clients[client] = struct{}{}
	f.mu.Unlock()

	// Send initial snapshot
	f.Notify()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			f.remove(client)
			return
		}
	}
}

func (f *Feed) remove(client *wsClient) {
	f.mu.Lock()
	_, ok := f.clients[client]
	delete(f.clients, client)
	f.mu.Unlock()
	if ok {
		client.conn.Close()
	}
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	clients := f.clients
	f.clients = make(map[*wsClient]struct{})
	f.mu.Unlock()

	for client := range clients {
		client.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		client.conn.Close()
	}
}
