// Package websocket pushes compliance alerts to staff screens. Each clinic
// has its own channel: a client only hears events for the clinic its request
// was resolved to, optionally narrowed to a set of event types.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/CompassionateITWEBDEV/MASE-Behavioral-Health-EMR-dev-sub004/internal/platform/db"
)

// Event types published by the compliance service.
const (
	EventHoldOpened       = "hold.opened"
	EventHoldOverridden   = "hold.overridden"
	EventHoldClosed       = "hold.closed"
	EventOverrideReviewed = "override.reviewed"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// Event is one alert. Clinic is filled from the publishing context when empty.
type Event struct {
	Type      string      `json:"type"`
	Clinic    string      `json:"clinic"`
	EntityID  string      `json:"entity_id"`
	PatientID int64       `json:"patient_id,omitempty"`
	At        time.Time   `json:"at"`
	Data      interface{} `json:"data,omitempty"`
}

// ClientMessage is sent by a client to narrow its feed. An empty Types list
// restores every event.
type ClientMessage struct {
	Action string   `json:"action"`
	Types  []string `json:"types"`
}

// Client is one connected screen.
type Client struct {
	ID     string
	Clinic string
	Send   chan []byte

	mu    sync.RWMutex
	types map[string]bool
}

// NewClient returns a client for clinic that receives every event type.
func NewClient(clinic string) *Client {
	return &Client{ID: uuid.NewString(), Clinic: clinic, Send: make(chan []byte, sendBuffer)}
}

func (c *Client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types) == 0 || c.types[eventType]
}

// SetFilter limits the client to the given event types.
func (c *Client) SetFilter(types []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = make(map[string]bool, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			c.types[t] = true
		}
	}
}

// Hub tracks connected clients by clinic.
type Hub struct {
	mu      sync.RWMutex
	clinics map[string]map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clinics: make(map[string]map[*Client]struct{}),
		logger:  logger.With().Str("component", "alerts").Logger(),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clinics[c.Clinic] == nil {
		h.clinics[c.Clinic] = make(map[*Client]struct{})
	}
	h.clinics[c.Clinic][c] = struct{}{}
}

// Unregister removes c and closes its Send channel. Repeated calls are no-ops.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clinics[c.Clinic]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.clinics, c.Clinic)
	}
	close(c.Send)
}

// Publish delivers e to every interested client of its clinic. A client whose
// buffer is full misses the event rather than blocking the publisher.
func (h *Hub) Publish(ctx context.Context, e Event) {
	if e.Clinic == "" {
		e.Clinic = db.TenantFromContext(ctx)
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error().Err(err).Str("type", e.Type).Msg("encode alert")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clinics[e.Clinic] {
		if !c.wants(e.Type) {
			continue
		}
		select {
		case c.Send <- data:
		default:
			h.logger.Warn().Str("client_id", c.ID).Str("type", e.Type).Msg("alert dropped, client buffer full")
		}
	}
}

// ClientCount returns the number of clients connected for clinic.
func (h *Hub) ClientCount(clinic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clinics[clinic])
}

// Handler upgrades requests to websocket connections.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts browser connections from allowedOrigins; "*" allows any
// origin. Requests without an Origin header (non-browser clients) are allowed.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// RegisterRoutes mounts the feed on g. The caller applies the role check.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/alerts/ws", h.Connect)
}

// Connect upgrades the request and streams the clinic's alerts until the
// client goes away.
func (h *Handler) Connect(c echo.Context) error {
	clinic := db.TenantFromContext(c.Request().Context())
	if clinic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "clinic could not be resolved")
	}
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		return nil
	}

	client := NewClient(clinic)
	if types := c.QueryParam("types"); types != "" {
		client.SetFilter(strings.Split(types, ","))
	}
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Action == "filter" {
			client.SetFilter(msg.Types)
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
