package server

import (
	"time"

	"github.com/gorilla/websocket"

	"tag-server/internal/protocol"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
)

// Client represents a WebSocket connection
type Client struct {
	srv        *Server
	conn       *websocket.Conn
	send       chan []byte
	id         string
	account    string
	remoteAddr string
	codec      protocol.Codec
	msgCount   int
	msgResetAt time.Time
}

func newClient(srv *Server, conn *websocket.Conn, id, account, remoteAddr string, codec protocol.Codec) *Client {
	return &Client{
		srv:        srv,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		id:         id,
		account:    account,
		remoteAddr: remoteAddr,
		codec:      codec,
	}
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// Account returns the authenticated account
func (c *Client) Account() string {
	return c.account
}

// queue hands a frame to the write pump. Callers hold the hub read lock,
// which keeps send open. A full queue drops the frame.
func (c *Client) queue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.srv.log.Debugw("send queue full, dropping frame", "conn", c.id)
	}
}

// readPump reads messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.srv.hub.TrackDisconnect(c.remoteAddr)
		c.srv.hub.remove(c)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.log.Warnw("ws read error", "conn", c.id, "error", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			c.srv.log.Warnw("rate limit exceeded, disconnecting", "conn", c.id, "ip", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(frameType, message); err != nil {
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

// handleMessage routes an inbound frame. Malformed frames are dropped.
func (c *Client) handleMessage(raw []byte) {
	in, err := c.codec.Decode(raw)
	if err != nil {
		c.srv.log.Debugw("bad frame", "conn", c.id, "error", err)
		return
	}

	switch in.T {
	case protocol.MsgMove:
		var msg protocol.MoveMsg
		if err := c.codec.Unmarshal(in.D, &msg); err != nil {
			return
		}
		c.srv.game.Move(c.id, msg.X, msg.Y)
	case protocol.MsgTag:
		var msg protocol.TagMsg
		if err := c.codec.Unmarshal(in.D, &msg); err != nil {
			return
		}
		c.srv.game.Tag(c.id, msg.ID)
	case protocol.MsgGetLeaderboard:
		c.srv.game.RequestLeaderboard(c.id)
	case protocol.MsgGetAchievements:
		c.srv.achievements.SendAchievements(c.account, c.id)
	default:
		c.srv.log.Debugw("unknown message type", "conn", c.id, "type", in.T)
	}
}
