// Package events fans committed ledger events out to WebSocket subscribers.
package events

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Publisher receives events after the transaction that produced them has
// committed. Implementations must not block.
type Publisher interface {
	Publish(event *models.LedgerEvent)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(*models.LedgerEvent) {}

// Filter narrows the events a subscriber receives.
type Filter struct {
	Types      []models.LedgerEventType `json:"types,omitempty"`
	ProductIDs []uuid.UUID              `json:"product_ids,omitempty"`
}

// Matches reports whether event passes the filter.
func (f *Filter) Matches(event *models.LedgerEvent) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, event.Type) {
		return false
	}
	if len(f.ProductIDs) > 0 {
		if event.ProductID == nil || !slices.Contains(f.ProductIDs, *event.ProductID) {
			return false
		}
	}
	return true
}

// Subscriber identifies who is on the other end of a connection.
type Subscriber struct {
	UserID uuid.UUID
	Admin  bool
}

// CanSee reports whether the subscriber may receive event. Events about a
// specific user are private to that user and to admins.
func (s Subscriber) CanSee(event *models.LedgerEvent) bool {
	if s.Admin || event.UserID == nil {
		return true
	}
	return *event.UserID == s.UserID
}

// Config holds configuration for the Feed.
type Config struct {
	// PingInterval is how often to send ping messages to clients.
	PingInterval time.Duration
	// WriteTimeout is the timeout for writing to a client.
	WriteTimeout time.Duration
	// ReadTimeout is the timeout for reading from a client.
	ReadTimeout time.Duration
	// MaxMessageSize is the maximum size of a message from a client.
	MaxMessageSize int64
	SendBufferSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 1024,
		SendBufferSize: 64,
	}
}

type client struct {
	id     uuid.UUID
	sub    Subscriber
	conn   *websocket.Conn
	send   chan *models.LedgerEvent
	feed   *Feed
	mu     sync.Mutex
	filter *Filter
}

func (c *client) wants(event *models.LedgerEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub.CanSee(event) && c.filter.Matches(event)
}

// Feed manages ledger event broadcasting to connected clients.
type Feed struct {
	config   Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	clients   map[uuid.UUID]*client
	clientsMu sync.RWMutex

	broadcast  chan *models.LedgerEvent
	register   chan *client
	unregister chan *client

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFeed creates a new Feed.
func NewFeed(cfg Config, logger zerolog.Logger) *Feed {
	return &Feed{
		config: cfg,
		logger: logger.With().Str("component", "event_feed").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[uuid.UUID]*client),
		broadcast:  make(chan *models.LedgerEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Start begins processing events and client management.
func (f *Feed) Start() {
	f.wg.Add(1)
	go f.run()
	f.logger.Info().Msg("event feed started")
}

// Stop stops the feed and closes all client connections. Later calls are
// no-ops.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
		f.wg.Wait()
		f.logger.Info().Msg("event feed stopped")
	})
}

func (f *Feed) run() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			f.closeAll()
			return
		case c := <-f.register:
			f.clientsMu.Lock()
			f.clients[c.id] = c
			f.clientsMu.Unlock()
			f.logger.Debug().Str("client_id", c.id.String()).Str("user_id", c.sub.UserID.String()).Msg("client connected")
		case c := <-f.unregister:
			f.remove(c)
		case event := <-f.broadcast:
			f.fanOut(event)
		}
	}
}

func (f *Feed) remove(c *client) {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	if _, ok := f.clients[c.id]; !ok {
		return
	}
	delete(f.clients, c.id)
	close(c.send)
	f.logger.Debug().Str("client_id", c.id.String()).Msg("client disconnected")
}

func (f *Feed) closeAll() {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	for _, c := range f.clients {
		close(c.send)
	}
	f.clients = make(map[uuid.UUID]*client)
}

func (f *Feed) fanOut(event *models.LedgerEvent) {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()

	for _, c := range f.clients {
		if !c.wants(event) {
			continue
		}
		select {
		case c.send <- event:
		default:
			f.logger.Warn().
				Str("client_id", c.id.String()).
				Msg("client send buffer full, dropping event")
		}
	}
}

// Publish queues event for delivery. It never blocks; events are dropped
// when the broadcast buffer is full.
func (f *Feed) Publish(event *models.LedgerEvent) {
	if event == nil {
		return
	}
	select {
	case f.broadcast <- event:
	default:
		f.logger.Warn().Str("event_type", string(event.Type)).Msg("broadcast buffer full, dropping event")
	}
}

// HandleWebSocket upgrades the request and streams events to sub until the
// connection closes.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request, sub Subscriber) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	c := &client{
		id:     uuid.New(),
		sub:    sub,
		conn:   conn,
		send:   make(chan *models.LedgerEvent, f.config.SendBufferSize),
		feed:   f,
		filter: &Filter{},
	}

	select {
	case f.register <- c:
	case <-f.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (f *Feed) ClientCount() int {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	return len(f.clients)
}

// readPump applies filter updates sent by the client.
func (c *client) readPump() {
	defer func() {
		select {
		case c.feed.unregister <- c:
		case <-c.feed.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.feed.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.feed.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.feed.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.feed.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var update struct {
			Type   string `json:"type"`
			Filter Filter `json:"filter"`
		}
		if err := json.Unmarshal(message, &update); err == nil && update.Type == "filter" {
			c.mu.Lock()
			c.filter = &update.Filter
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.feed.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.feed.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.feed.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
