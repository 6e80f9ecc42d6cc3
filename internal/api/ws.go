package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"resilience-notifier/internal/models"
)

// maxConnsPerOrg bounds how many live alert streams one organization can
// hold open.
const maxConnsPerOrg = 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// AlertHub fans live breach alerts out to the WebSocket connections of each
// organization. Delivery here is best-effort; the durable record is the
// notification queue.
type AlertHub struct {
	connections map[uuid.UUID]map[*websocket.Conn]bool
	mutex       sync.Mutex
	logger      *logrus.Logger
}

func NewAlertHub(logger *logrus.Logger) *AlertHub {
	return &AlertHub{
		connections: make(map[uuid.UUID]map[*websocket.Conn]bool),
		logger:      logger,
	}
}

// AddConnection registers a WebSocket connection for an organization.
func (h *AlertHub) AddConnection(orgID uuid.UUID, conn *websocket.Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, exists := h.connections[orgID]; !exists {
		h.connections[orgID] = make(map[*websocket.Conn]bool)
	}
	if len(h.connections[orgID]) >= maxConnsPerOrg {
		h.logger.Warnf("Max alert connections reached for org %s", orgID)
		return false
	}
	h.connections[orgID][conn] = true
	h.logger.Infof("Added alert connection for org %s (total: %d)", orgID, len(h.connections[orgID]))
	return true
}

// RemoveConnection unregisters a WebSocket connection.
func (h *AlertHub) RemoveConnection(orgID uuid.UUID, conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if conns, exists := h.connections[orgID]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.connections, orgID)
		}
	}
}

// BroadcastBreach pushes a breach event to every connection of its
// organization. Connections that fail to write are dropped.
func (h *AlertHub) BroadcastBreach(b models.BreachEvent) {
	payload, err := json.Marshal(gin.H{"type": "breach", "breach": b})
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal breach broadcast")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	conns, exists := h.connections[b.OrgID]
	if !exists {
		return
	}
	for conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Errorf("Failed to push breach to org %s: %v", b.OrgID, err)
			conn.Close()
			delete(conns, conn)
		}
	}
	if len(conns) == 0 {
		delete(h.connections, b.OrgID)
	}
}

// AlertStream upgrades the request to a WebSocket and streams breach alerts
// for the caller's organization until the client disconnects.
func (h *Handler) AlertStream(c *gin.Context) {
	orgID := orgFromContext(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	if !h.hub.AddConnection(orgID, conn) {
		conn.Close()
		return
	}
	defer func() {
		h.hub.RemoveConnection(orgID, conn)
		conn.Close()
	}()

	// Drain client frames until the connection closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
