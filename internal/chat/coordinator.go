package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// ErrNoActiveSession is returned by operator commands that require a
// selected session while none is selected.
var ErrNoActiveSession = errors.New("no active session")

// Coordinator is the single-threaded core of the operator view. It owns
// the Session Registry and the displayed message sequence of the active
// session; every mutation runs on the event loop started by Run, so
// transport events, gateway completions and operator commands never
// interleave their effects.
type Coordinator struct {
	transport Transport
	gateway   Gateway
	registry  *Registry
	selfName  string

	tasks chan task

	active    string
	displayed []Message
}

type task struct {
	fn   func()
	done chan struct{}
}

func NewCoordinator(transport Transport, gateway Gateway, selfName string) *Coordinator {
	return &Coordinator{
		transport: transport,
		gateway:   gateway,
		registry:  NewRegistry(),
		selfName:  selfName,
		tasks:     make(chan task, 64),
	}
}

// Run processes events until ctx is done. Inbound transport events are
// funneled into the same queue as operator commands and gateway
// completions, so each one is handled to completion before the next.
func (c *Coordinator) Run(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-c.transport.Events():
				if !ok {
					return
				}
				select {
				case c.tasks <- task{fn: func() { c.handleEvent(ev) }}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-c.tasks:
			t.fn()
			if t.done != nil {
				close(t.done)
			}
		}
	}
}

// do runs fn on the event loop and waits for it to complete.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case c.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) handleEvent(ev Event) {
	switch ev.Type {
	case EventConnected:
		slog.Info("relay connected")
	case EventConnectionFailed:
		slog.Warn("relay connection failed", "error", ev.Err)
	case EventDisconnected:
		// Local state is kept; history is reconstructible from the store.
		slog.Warn("relay disconnected", "error", ev.Err)
	case EventMessage:
		if ev.Message != nil {
			c.handleInbound(*ev.Message)
		}
	case EventSessionDeleted:
		c.handleSessionDeleted(ev.SessionID)
	}
}

func (c *Coordinator) handleInbound(msg Message) {
	if msg.SessionID == "" {
		return
	}
	active := msg.SessionID == c.active
	c.registry.RecordInbound(msg, active)
	if !active {
		return
	}
	if msg.Sender == SenderCustomer {
		msg.DisplayName = c.registry.DisplayName(msg.SessionID)
	}
	c.appendDisplayed(msg)
}

func (c *Coordinator) handleSessionDeleted(id string) {
	if id == "" {
		return
	}
	c.registry.Remove(id)
	if c.active == id {
		c.active = ""
		c.displayed = nil
	}
}

// appendDisplayed adds msg to the displayed sequence unless an entry with
// the same (body, timestamp, sender) identity is already present. The same
// message can arrive once live and once via a history fetch, or be
// double-delivered by the relay.
func (c *Coordinator) appendDisplayed(msg Message) {
	for _, m := range c.displayed {
		if m.Body == msg.Body && m.Sender == msg.Sender && m.Timestamp.Equal(msg.Timestamp) {
			return
		}
	}
	c.displayed = append(c.displayed, msg)
}

// RefreshDirectory fetches the session directory and merges it into the
// Registry. Known sessions keep their local unread state.
func (c *Coordinator) RefreshDirectory(ctx context.Context) error {
	entries, err := c.gateway.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	return c.do(ctx, func() { c.registry.UpsertFromDirectory(entries) })
}

// Select makes id the active session: the unread counter is reset and the
// displayed sequence is cleared immediately, then rebuilt from a history
// fetch. A fetch that resolves after the operator moved on is discarded.
func (c *Coordinator) Select(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("session id is required")
	}
	if err := c.do(ctx, func() {
		c.active = id
		c.displayed = nil
		c.registry.Activate(id)
	}); err != nil {
		return err
	}

	history, err := c.gateway.FetchHistory(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	return c.do(ctx, func() { c.completeFetch(id, history) })
}

func (c *Coordinator) completeFetch(id string, history []Message) {
	if c.active != id {
		slog.Debug("discarding stale history", "sessionId", id)
		return
	}
	c.displayed = nil
	for _, m := range history {
		if m.SessionID == "" {
			m.SessionID = id
		}
		if m.Sender == SenderCustomer {
			m.DisplayName = c.registry.DisplayName(id)
		}
		c.appendDisplayed(m)
	}
}

// Send transmits an operator text message to the active session. The
// message is echoed into the displayed sequence before transmission; a
// transport failure is logged, not rolled back.
func (c *Coordinator) Send(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return errors.New("message body is empty")
	}
	var msg Message
	var cmdErr error
	if err := c.do(ctx, func() {
		if c.active == "" {
			cmdErr = ErrNoActiveSession
			return
		}
		msg = Message{
			Sender:      SenderOperator,
			Body:        body,
			SessionID:   c.active,
			Timestamp:   time.Now().UTC(),
			DisplayName: c.selfName,
		}
		c.appendDisplayed(msg)
		c.registry.SetPreview(msg.SessionID, msg.Body)
	}); err != nil {
		return err
	}
	if cmdErr != nil {
		return cmdErr
	}

	go c.transmit(msg)
	return nil
}

// SendAttachment uploads data to the store and, on success, sends the
// resulting reference URL as an operator message. The message is appended
// to the displayed sequence only if its session is still the active one
// when the upload completes.
func (c *Coordinator) SendAttachment(ctx context.Context, filename string, data io.Reader) error {
	var sessionID string
	var cmdErr error
	if err := c.do(ctx, func() {
		if c.active == "" {
			cmdErr = ErrNoActiveSession
			return
		}
		sessionID = c.active
	}); err != nil {
		return err
	}
	if cmdErr != nil {
		return cmdErr
	}

	url, err := c.gateway.UploadAttachment(ctx, sessionID, filename, data)
	if err != nil {
		return fmt.Errorf("upload attachment: %w", err)
	}

	msg := Message{
		Sender:      SenderOperator,
		Body:        url,
		SessionID:   sessionID,
		Timestamp:   time.Now().UTC(),
		DisplayName: c.selfName,
	}
	if err := c.do(ctx, func() {
		if c.active == sessionID {
			c.appendDisplayed(msg)
		}
		c.registry.SetPreview(sessionID, msg.Body)
	}); err != nil {
		return err
	}

	go c.transmit(msg)
	return nil
}

// DeleteActive purges the active session's history at the store. On
// success the session is dropped locally and the view returns to idle; on
// failure everything is left as it was.
func (c *Coordinator) DeleteActive(ctx context.Context) error {
	var sessionID string
	var cmdErr error
	if err := c.do(ctx, func() {
		if c.active == "" {
			cmdErr = ErrNoActiveSession
			return
		}
		sessionID = c.active
	}); err != nil {
		return err
	}
	if cmdErr != nil {
		return cmdErr
	}

	if err := c.gateway.DeleteHistory(ctx, sessionID); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return c.do(ctx, func() {
		c.registry.Remove(sessionID)
		if c.active == sessionID {
			c.active = ""
			c.displayed = nil
		}
	})
}

// Sessions returns the session list in directory order.
func (c *Coordinator) Sessions(ctx context.Context) ([]Session, error) {
	var out []Session
	err := c.do(ctx, func() { out = c.registry.Snapshot() })
	return out, err
}

// Displayed returns the active session id and a copy of its displayed
// message sequence. The id is empty while idle.
func (c *Coordinator) Displayed(ctx context.Context) (string, []Message, error) {
	var active string
	var msgs []Message
	err := c.do(ctx, func() {
		active = c.active
		msgs = append([]Message(nil), c.displayed...)
	})
	return active, msgs, err
}

func (c *Coordinator) transmit(msg Message) {
	if err := c.transport.Send(msg); err != nil {
		slog.Error("message transmission failed", "sessionId", msg.SessionID, "error", err)
	}
}
