package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/halaqah-id/halaqah-realtime/internal/protocol"
	"github.com/halaqah-id/halaqah-realtime/internal/stats"
	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

// Close reasons sent to the browser before the server drops a connection.
const (
	reasonHeartbeatTimeout = "heartbeat timeout"
	reasonShuttingDown     = "server shutting down"
	reasonSlowConsumer     = "send buffer full"
)

type closeFrame struct {
	code   int
	reason string
}

// Client is one websocket connection. A user has one Client per open tab.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	// session is the identity the connection was authenticated with.
	session types.User
	// user and identified are set once user:join is accepted. Loop-owned.
	user       types.PresenceUser
	identified bool
	send       chan *ServerMessage
	ops        *opQueue

	stop      chan struct{}
	stopOnce  sync.Once
	closeWith closeFrame
}

func NewClient(session types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) (*Client, error) {
	id, err := cs.newConnId()
	if err != nil {
		return nil, err
	}

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l,
		session:    session,
		send:       make(chan *ServerMessage, sendBufferSize),
		ops:        newOpQueue(cs.opts.StoreTimeout),
		stop:       make(chan struct{}),
	}, nil
}

func (c *Client) Id() string {
	return c.id
}

// Write drains the send queue onto the socket and keeps the browser's
// pong deadline alive. It owns every write on conn.
func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			frame, err := encodeFrame(msg)
			if err != nil {
				c.log.Printf("dropping %s for connection %s: %v", msg.Event, c.id, err)
				continue
			}
			if err := c.writeFrame(websocket.TextMessage, frame); err != nil {
				c.logWriteError(err)
				return
			}
		case <-ticker.C:
			if err := c.writeFrame(websocket.PingMessage, nil); err != nil {
				c.logWriteError(err)
				return
			}
		case <-c.stop:
			cf := c.closeWith
			c.writeFrame(websocket.CloseMessage, websocket.FormatCloseMessage(cf.code, cf.reason))
			return
		}
	}
}

// Read decodes inbound signals and hands them to the server until the
// socket fails or the server stops the connection.
func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.chatServer.deRegister(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if unexpectedClose(err) {
				c.log.Printf("read from connection %s: %v", c.id, err)
			}
			return
		}

		sig, err := protocol.Decode(raw)
		if err != nil {
			c.log.Printf("dropping signal from connection %s: %v", c.id, err)
			c.chatServer.stats.Incr(stats.NumDroppedSignals)
			continue
		}

		if !c.chatServer.dispatch(c, sig) {
			return
		}
	}
}

// queueMessage hands msg to the write pump. A connection that cannot keep
// up is closed rather than blocking the server loop.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Printf("send buffer of connection %s is full, closing it", c.id)
		c.stopClient(websocket.CloseTryAgainLater, reasonSlowConsumer)
		return false
	}
}

func encodeFrame(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) writeFrame(msgType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(msgType, data)
}

func (c *Client) logWriteError(err error) {
	if unexpectedClose(err) {
		c.log.Printf("write to connection %s: %v", c.id, err)
	}
}

func unexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure, websocket.CloseNormalClosure)
}

// stopClient ends the write pump, which sends a close frame with code and
// reason and then closes the transport. Only the first call has an effect.
func (c *Client) stopClient(code int, reason string) {
	c.stopOnce.Do(func() {
		c.closeWith = closeFrame{code: code, reason: reason}
		close(c.stop)
	})
}
