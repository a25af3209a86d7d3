package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dinsac/support-chat/internal/chat"
)

const (
	// Time allowed to write a message to the relay.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the relay.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// frame is the wire envelope shared with the relay.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type registerPayload struct {
	SelfID string `json:"selfId"`
}

type sessionDeletedPayload struct {
	SessionID string `json:"sessionId"`
}

// Channel is the operator's websocket connection to the relay. It redials
// after reconnectWait whenever the connection drops and announces itself
// with a register frame on every successful connect. Lifecycle and chat
// events are delivered on a single inbound stream.
type Channel struct {
	url           string
	selfID        string
	reconnectWait time.Duration

	events chan chat.Event
	send   chan chat.Message

	closed chan struct{}
	once   sync.Once
}

func NewChannel(url, selfID string, reconnectWait time.Duration) *Channel {
	return &Channel{
		url:           url,
		selfID:        selfID,
		reconnectWait: reconnectWait,
		events:        make(chan chat.Event, 64),
		send:          make(chan chat.Message, 64),
		closed:        make(chan struct{}),
	}
}

func (c *Channel) Events() <-chan chat.Event { return c.events }

// Send queues msg for transmission. Fire-and-forget: delivery is not
// acknowledged.
func (c *Channel) Send(msg chat.Message) error {
	select {
	case <-c.closed:
		return errors.New("transport closed")
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.closed:
		return errors.New("transport closed")
	}
}

func (c *Channel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Run dials the relay and keeps the connection alive until ctx is done or
// the channel is closed.
func (c *Channel) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.emit(chat.Event{Type: chat.EventConnectionFailed, Err: err})
			if !c.wait(ctx) {
				return
			}
			continue
		}

		c.emit(chat.Event{Type: chat.EventConnected})
		err = c.serve(ctx, conn)
		conn.Close()
		c.emit(chat.Event{Type: chat.EventDisconnected, Err: err})

		if !c.wait(ctx) {
			return
		}
	}
}

// serve announces the operator and pumps frames until the connection
// breaks or the channel shuts down.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	reg, err := json.Marshal(registerPayload{SelfID: c.selfID})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame{Event: "register", Payload: reg}); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go c.writePump(ctx, conn, stop)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		c.dispatch(f)
	}
}

func (c *Channel) writePump(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.send:
			payload, err := json.Marshal(msg)
			if err != nil {
				slog.Error("encode outbound message", "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame{Event: "message", Payload: payload}); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-ctx.Done():
			c.closeConn(conn)
			return
		case <-c.closed:
			c.closeConn(conn)
			return
		case <-stop:
			return
		}
	}
}

func (c *Channel) closeConn(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}

func (c *Channel) dispatch(f frame) {
	switch f.Event {
	case "message":
		var msg chat.Message
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			slog.Warn("bad message payload", "error", err)
			return
		}
		c.emit(chat.Event{Type: chat.EventMessage, Message: &msg})
	case "sessionDeleted":
		var p sessionDeletedPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			slog.Warn("bad sessionDeleted payload", "error", err)
			return
		}
		c.emit(chat.Event{Type: chat.EventSessionDeleted, SessionID: p.SessionID})
	default:
		slog.Debug("ignoring relay event", "event", f.Event)
	}
}

func (c *Channel) emit(ev chat.Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

// wait sleeps for the reconnect interval; it reports false when the
// channel should stop instead of redialing.
func (c *Channel) wait(ctx context.Context) bool {
	t := time.NewTimer(c.reconnectWait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	}
}
