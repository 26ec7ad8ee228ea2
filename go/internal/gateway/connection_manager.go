// Package gateway fans workspace change events out to connected clients over
// WebSocket. Connections are pooled per workspace; the bridge subscribes each
// pool to the change feed while at least one client is connected.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections for workspace events.
type ConnectionManager struct {
	workspaceConnections map[uuid.UUID]map[*Connection]bool
	mu                   sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage

	// onPoolChange fires after a workspace pool grows from or shrinks to
	// zero connections. The feed bridge uses it to manage subscriptions.
	onPoolChange func(workspaceID uuid.UUID, active bool)
}

// Connection represents a WebSocket connection to one client. Send is never
// closed: broadcasters may race connection teardown, so teardown is signalled
// through done instead and writePump drains until then.
type Connection struct {
	ID          string
	IdentityID  string
	WorkspaceID uuid.UUID
	Conn        *websocket.Conn
	Send        chan []byte
	Manager     *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	done     chan struct{}
	doneOnce sync.Once
}

// shutdown signals writePump to stop. Safe to call from multiple goroutines.
func (c *Connection) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to connections.
type BroadcastMessage struct {
	WorkspaceID uuid.UUID
	Event       *WorkspaceEvent
	IdentityID  string // optional: if set, only send to this identity
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		workspaceConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and registers it
// in the workspace pool.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, identityID string, workspaceID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		IdentityID:  identityID,
		WorkspaceID: workspaceID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		done:        make(chan struct{}),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("identity_id", identityID).
		Str("workspace_id", workspaceID.String()).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	firstInPool := cm.workspaceConnections[conn.WorkspaceID] == nil
	if firstInPool {
		cm.workspaceConnections[conn.WorkspaceID] = make(map[*Connection]bool)
	}
	cm.workspaceConnections[conn.WorkspaceID][conn] = true
	poolSize := len(cm.workspaceConnections[conn.WorkspaceID])
	onPoolChange := cm.onPoolChange
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("workspace_id", conn.WorkspaceID.String()).
		Int("total_connections", poolSize).
		Msg("connection registered")

	if firstInPool && onPoolChange != nil {
		onPoolChange(conn.WorkspaceID, true)
	}
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.workspaceConnections[conn.WorkspaceID]
	if !exists {
		cm.mu.Unlock()
		return
	}
	if _, exists := connections[conn]; !exists {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	conn.shutdown()

	poolEmptied := len(connections) == 0
	if poolEmptied {
		delete(cm.workspaceConnections, conn.WorkspaceID)
	}
	onPoolChange := cm.onPoolChange
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("identity_id", conn.IdentityID).
		Str("workspace_id", conn.WorkspaceID.String()).
		Msg("connection unregistered")

	if poolEmptied && onPoolChange != nil {
		onPoolChange(conn.WorkspaceID, false)
	}
}

// BroadcastToWorkspace sends an event to all connections of one workspace.
func (cm *ConnectionManager) BroadcastToWorkspace(workspaceID uuid.UUID, event *WorkspaceEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{WorkspaceID: workspaceID, Event: event}:
	default:
		log.Warn().Str("workspace_id", workspaceID.String()).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToIdentity sends an event to one identity's connections only.
func (cm *ConnectionManager) BroadcastToIdentity(workspaceID uuid.UUID, identityID string, event *WorkspaceEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{WorkspaceID: workspaceID, Event: event, IdentityID: identityID}:
	default:
		log.Warn().
			Str("workspace_id", workspaceID.String()).
			Str("identity_id", identityID).
			Msg("broadcast channel full, dropping identity message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.workspaceConnections[message.WorkspaceID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot so the lock is not held during the sends.
	var targets []*Connection
	for conn := range connections {
		if message.IdentityID != "" && conn.IdentityID != message.IdentityID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- eventData:
		default:
			// Connection is slow or dead, close it.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("identity_id", conn.IdentityID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("table", message.Event.Table).
		Str("workspace_id", message.WorkspaceID.String()).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats reports the active connection counts.
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{WorkspaceConnections: make(map[string]int)}
	for workspaceID, connections := range cm.workspaceConnections {
		stats.TotalConnections += len(connections)
		stats.WorkspaceConnections[workspaceID.String()] = len(connections)
	}
	stats.ActiveWorkspaces = len(cm.workspaceConnections)
	return stats
}

// ConnectionStats summarizes the live connection pools.
type ConnectionStats struct {
	TotalConnections     int            `json:"total_connections"`
	ActiveWorkspaces     int            `json:"active_workspaces"`
	WorkspaceConnections map[string]int `json:"workspace_connections"`
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes messages received from the client. The wire
// is currently one-way; clients write through the store APIs, not the socket.
func (c *Connection) handleClientMessage(message []byte) {
	log.Debug().
		Str("connection_id", c.ID).
		Str("identity_id", c.IdentityID).
		RawJSON("message", message).
		Msg("received client message")
}
