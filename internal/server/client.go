package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-watchparty/internal/config"
	"github.com/npezzotti/go-watchparty/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10

	sendQueueSize = config.DefaultSendQueueSize
)

// Client wraps one websocket session. A session belongs to at most one
// party at a time.
type Client struct {
	conn        *websocket.Conn
	partyServer *PartyServer
	log         *log.Logger
	user        types.User
	sessionId   string
	send        chan *ServerMessage
	room        *Room
	roomLock    sync.RWMutex
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewClient(user types.User, sessionId string, conn *websocket.Conn, ps *PartyServer, l *log.Logger) *Client {
	return &Client{
		conn:        conn,
		partyServer: ps,
		log:         l,
		user:        user,
		sessionId:   sessionId,
		send:        make(chan *ServerMessage, ps.tun.sendQueueSize),
		stop:        make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("session %q: write exiting", c.sessionId)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("session %q: read exiting", c.sessionId)
	}()

	c.conn.SetReadLimit(c.partyServer.tun.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil, msg.Resume != nil:
		// a session belongs to at most one party; joining a second party
		// without leaving would strand the first room's roster entry
		if r := c.getRoom(); r != nil && r.party.ExternalId != msg.partyId() {
			c.queueMessage(ErrConflict(msg.Id, "leave the current party before joining another"))
			return
		}

		// room creation and resume both go through the registry
		select {
		case c.partyServer.joinChan <- msg:
		default:
			c.log.Println("registry join channel full")
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	case msg.Leave != nil:
		r := c.getRoom()
		if r == nil {
			c.queueMessage(ErrRoomNotFound(msg.Id))
			return
		}

		select {
		case r.leaveChan <- &leaveReq{client: c, id: msg.Id, graceful: true}:
		default:
			c.log.Printf("leave channel full for party %q", r.party.ExternalId)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	case msg.Control != nil, msg.Chat != nil, msg.Reaction != nil,
		msg.PollCreate != nil, msg.PollVote != nil:
		r := c.getRoom()
		if r == nil {
			c.queueMessage(ErrRoomNotFound(msg.Id))
			return
		}

		select {
		case r.intentChan <- msg:
		default:
			c.log.Printf("intent channel full for party %q", r.party.ExternalId)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// queueMessage enqueues an outbound message. A full queue means the
// client is not draining its connection; the session is terminated so
// it cannot stall the room's fan-out.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("session %q: send queue full, disconnecting", c.sessionId)
		c.stopClient()
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) cleanup() {
	c.partyServer.DeregisterClient(c)

	if r := c.getRoom(); r != nil {
		// transport drop without a leave message: the participant gets
		// a reconnect window
		select {
		case r.leaveChan <- &leaveReq{client: c, graceful: false}:
		default:
			c.log.Printf("leave channel full for party %q", r.party.ExternalId)
		}
	}

	c.stopClient()
}

func (c *Client) setRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	c.room = r
}

func (c *Client) clearRoom() {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	c.room = nil
}

func (c *Client) getRoom() *Room {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()
	return c.room
}
