package events

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{subprotocolProtobuf, subprotocolJSON},
}

type frame struct {
	data   []byte
	binary bool
}

// Client is one WebSocket subscriber.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan frame
	connID   string
	groups   map[string]bool
	logger   *zap.Logger
	protocol string

	// Joined by the hub when it registers the client
	initialGroups []string

	sendMu sync.Mutex
	closed bool
}

// HandleWS upgrades the request and subscribes the connection. The optional
// "language" query parameter is a comma separated list of groups to join;
// without it the client joins the "all" group. The encoding is negotiated by
// subprotocol, or by the "encoding" query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	groups := []string{GroupAll}
	if raw := r.URL.Query().Get("language"); raw != "" {
		groups = groups[:0]
		for _, g := range strings.Split(raw, ",") {
			g = strings.TrimSpace(g)
			if !isValidGroup(g) {
				http.Error(w, "invalid language: "+g, http.StatusBadRequest)
				return
			}
			groups = append(groups, g)
		}
	}

	protocol := ProtocolJSON
	if r.URL.Query().Get("encoding") == ProtocolProtobuf {
		protocol = ProtocolProtobuf
	}
	var responseHeader http.Header
	for _, proto := range websocket.Subprotocols(r) {
		switch proto {
		case subprotocolProtobuf:
			protocol = ProtocolProtobuf
			responseHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
		case subprotocolJSON:
			protocol = ProtocolJSON
			responseHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
		}
		if responseHeader != nil {
			break
		}
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan frame, sendBufferSize),
		connID:   uuid.New().String(),
		groups:   make(map[string]bool),
		logger:   h.logger,
		protocol: protocol,

		initialGroups: groups,
	}

	if !h.registerClient(client) {
		conn.Close()
		return
	}

	client.trySend(frame{data: buildConnectedMessage(client.connID, protocol, groups)})

	// Start read/write pumps
	go client.writePump()
	go client.readPump()
}

// trySend queues a frame without blocking. It reports false when the
// buffer is full; frames for a closed client are discarded.
func (c *Client) trySend(f frame) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			msgType := websocket.TextMessage
			if f.binary {
				msgType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(msgType, f.data); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
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

// handleMessage processes an incoming upstream message.
func (c *Client) handleMessage(data []byte) {
	msg, err := parseUpstreamMessage(data)
	if err != nil {
		c.logger.Debug("failed to parse upstream message",
			zap.String("connID", c.connID),
			zap.Error(err),
		)
		return
	}

	switch m := msg.(type) {
	case *subscribeRequest:
		ok := isValidGroup(m.group) && c.hub.JoinGroup(c, m.group)
		if m.ackID != nil {
			c.trySend(frame{data: buildAckMessage(*m.ackID, ok)})
		}

	case *unsubscribeRequest:
		c.hub.LeaveGroup(c, m.group)
		if m.ackID != nil {
			c.trySend(frame{data: buildAckMessage(*m.ackID, true)})
		}

	case *pingRequest:
		c.trySend(frame{data: buildPongMessage()})
	}
}
