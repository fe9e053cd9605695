package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Maximum inbound frame size
	maxMessageSize = 64 * 1024
	// Time allowed to read the next pong from the client
	pongWait = 60 * time.Second
	// Ping interval; must be less than pongWait
	pingPeriod = 30 * time.Second
	// Time allowed to write one frame to the client
	writeWait = 10 * time.Second
)

// Upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development; restrict in production
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient binds one websocket connection to its session
type wsClient struct {
	hub     *Hub
	session *Session
	conn    *websocket.Conn
}

// HandleWS upgrades the connection, registers the session, sends the
// initial_data snapshot and starts the read/write pumps
func (h *Hub) HandleWS(c *gin.Context) {
	clientID := c.Param("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection: %v", err)
		return
	}

	session, err := h.Connect(clientID)
	if err != nil {
		var dup *DuplicateClientError
		if errors.As(err, &dup) {
			h.logger.Warn("Rejecting duplicate connection for client %s", clientID)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "client id already connected"),
				time.Now().Add(writeWait))
		}
		_ = conn.Close()
		return
	}

	// Enqueued before the pumps start so it is always the first frame out
	if err := h.SendInitialData(c.Request.Context(), clientID); err != nil {
		h.logger.Error("Failed to send initial data to client %s: %v", clientID, err)
	}

	client := &wsClient{hub: h, session: session, conn: conn}
	go client.writePump()
	go client.readPump()
}

// readPump pumps inbound frames into the hub dispatcher. A read error is a
// transport failure and triggers full session teardown.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.Disconnect(c.session.ClientID)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error for client %s: %v", c.session.ClientID, err)
			}
			return
		}

		if err := c.hub.Dispatch(context.Background(), c.session.ClientID, raw); err != nil {
			var malformed *MalformedMessageError
			var unknown *UnknownSessionError
			switch {
			case errors.As(err, &malformed):
				// Drop the frame, keep the connection
				c.hub.logger.Debug("Dropping frame from client %s: %v", c.session.ClientID, err)
				c.hub.Broadcast(c.session.ClientID, NewErrorFrame(malformed.Reason))
			case errors.As(err, &unknown):
				// Session is gone; tear the connection down
				return
			default:
				c.hub.logger.Error("Dispatch failed for client %s: %v", c.session.ClientID, err)
			}
		}
	}
}

// writePump drains the session's outbound queue to the websocket and keeps
// the connection alive with pings. A write error is a transport failure.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Disconnect(c.session.ClientID)
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.session.Frames():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the session
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
