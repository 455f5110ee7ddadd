package handlers

import (
	"net/http"

	"github.com/MacJediWizard/roundledger/internal/api/middleware"
	"github.com/MacJediWizard/roundledger/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// EventStreamer upgrades a request to a live event stream.
type EventStreamer interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request, sub events.Subscriber)
}

// EventsHandler serves the live ledger event feed.
type EventsHandler struct {
	feed   EventStreamer
	logger zerolog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(feed EventStreamer, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		feed:   feed,
		logger: logger.With().Str("component", "events_handler").Logger(),
	}
}

// RegisterRoutes registers the event feed route on the given router group.
func (h *EventsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws/events", h.Stream)
}

// Stream upgrades to a WebSocket. Non-admin callers only see events that are
// public or about themselves.
// GET /api/v1/ws/events
func (h *EventsHandler) Stream(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	h.logger.Debug().Str("user_id", user.UserID.String()).Msg("event stream requested")
	h.feed.HandleWebSocket(c.Writer, c.Request, events.Subscriber{
		UserID: user.UserID,
		Admin:  user.IsAdmin(),
	})
}
