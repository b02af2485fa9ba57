package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"trading-gateway/src/protocol"
	"trading-gateway/src/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait  = 2 * time.Second
	pingPeriod = 30 * time.Second
	// Two missed ping intervals terminate the connection
	pongWait = 2 * pingPeriod
)

// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

type Client struct {
	server *GatewayServer
	conn   *websocket.Conn
	sess   *session.Session
	send   chan []byte

	closeOnce sync.Once
}

// -----------------------------------------------------------------------------

// WriteFrame queues an encoded frame for the write pump. It is the reliable
// layer's sink; a full buffer fails the write so QoS-1 retries can take over.
func (c *Client) WriteFrame(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// -----------------------------------------------------------------------------

// Close tears the connection down once; the read pump handles the fallout.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// -----------------------------------------------------------------------------
// readPump - frames inbound messages and feeds the dispatcher.
// Acts as the watchdog for the connection.
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		c.server.handleClientGone(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(protocol.MaxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.Logger.Info("WebSocket error: %v", err)
			}
			break
		}

		frame, err := protocol.DecodeFrame(message)
		if err != nil {
			// Malformed or oversize frames are fatal to the connection
			c.server.Logger.Warning("session %s: dropping connection: %v", c.sess.ID, err)
			break
		}

		// Inbound processing is serialized per session by this loop
		c.server.dispatch(c.sess, frame)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends queued frames and keeps the connection alive.
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				c.server.Logger.Debug("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// WebSocket upgrade and session binding
// -----------------------------------------------------------------------------

func (s *GatewayServer) handleWebSocket(c *gin.Context) {
	identity, err := s.inspector.Extract(c.Request)
	if err != nil {
		s.Logger.Info("handshake rejected: %v", err)
		s.rejectHandshake(c)
		return
	}
	if !s.inspector.Authorize(identity, c.Request) {
		s.Logger.Info("handshake not authorized for client %s", identity.ClientID)
		s.rejectHandshake(c)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	sess, resumed := s.Sessions.Bind(identity)

	client := &Client{
		server: s,
		conn:   conn,
		sess:   sess,
		// Buffered channel so broadcasts never block on one slow consumer
		send: make(chan []byte, 256),
	}

	s.bindClient(sess.ID, client)
	s.Metrics.RecordConnection()

	go client.writePump()
	go client.readPump()

	// Rebinding replays unacked QoS-1 frames in original order
	sess.Outbound.Attach(client)

	if resumed {
		s.Logger.Info("client %s rebound to session %s", identity.ClientID, sess.ID)
	}
}

// -----------------------------------------------------------------------------

// rejectHandshake completes the upgrade only to deliver the stable close
// reason, then drops the connection.
func (s *GatewayServer) rejectHandshake(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	deadline := time.Now().Add(writeWait)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, s.inspector.RejectReason()),
		deadline)
	conn.Close()
}

// -----------------------------------------------------------------------------

// handleClientGone runs when a transport dies: the session stays alive for
// the resume TTL unless a newer transport already took it over.
func (s *GatewayServer) handleClientGone(c *Client) {
	s.Metrics.RecordDisconnection()

	if !s.unbindClient(c.sess.ID, c) {
		return
	}
	if err := s.Sessions.Disconnect(c.sess.ID); err != nil && err != session.ErrUnknownSession {
		s.Logger.Warning("disconnect of session %s failed: %v", c.sess.ID, err)
	}
	s.Logger.Info("Client disconnected")
}
