// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channel_observer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
)

// EventQueueSize bounds the per-observer delivery queue. A slow observer
// loses the oldest queued events rather than stalling the call path.
const EventQueueSize = 64

// client is one authenticated observer connection. It implements
// internal_session.Subscriber; Deliver never blocks.
type client struct {
	h  *Handler
	ws *websocket.Conn

	events chan *internal_event.Record
	done   chan struct{}

	// readOnly restricts the connection to its pre-bound subscription;
	// mutating commands are rejected.
	readOnly bool

	// pumpMu freezes the event pump while a replay is written out, so the
	// replay lands before any queued live event. replayed holds the ids of
	// replayed events; the pump drops their queued duplicates.
	pumpMu   sync.Mutex
	replayed map[string]bool

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

var _ internal_session.Subscriber = (*client)(nil)

func newClient(h *Handler, ws *websocket.Conn) *client {
	return &client{
		h:        h,
		ws:       ws,
		events:   make(chan *internal_event.Record, EventQueueSize),
		done:     make(chan struct{}),
		replayed: make(map[string]bool),
	}
}

// Deliver queues an event for this observer, dropping the oldest entry when
// the queue is full. Runs on the recording goroutine; must not block.
func (c *client) Deliver(rec *internal_event.Record) {
	for {
		select {
		case c.events <- rec:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}

// authenticate reads the first frame and verifies it is a valid auth
// command. Any failure sends AUTH_FAILED and closes the socket.
func (c *client) authenticate() bool {
	_ = c.ws.SetReadDeadline(time.Now().Add(AuthTimeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.teardown()
		return false
	}
	_ = c.ws.SetReadDeadline(time.Time{})

	var msg commandMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != CommandAuth {
		c.sendError(msg.ID, "", ErrAuthFailed, "first message must be auth")
		c.teardown()
		return false
	}
	if err := c.h.verifyToken(msg.Token); err != nil {
		c.sendError(msg.ID, "", ErrAuthFailed, "invalid token")
		c.teardown()
		return false
	}
	c.send(serverMessage{Type: MessageAck, ID: msg.ID, Data: map[string]interface{}{"authenticated": true}})
	return true
}

// eventPump forwards queued subscription events onto the socket.
func (c *client) eventPump() {
	for {
		select {
		case <-c.done:
			return
		case rec := <-c.events:
			c.pumpMu.Lock()
			if c.replayed[rec.ID] {
				delete(c.replayed, rec.ID)
				c.pumpMu.Unlock()
				continue
			}
			c.pumpMu.Unlock()
			c.send(serverMessage{Type: MessageEvent, CallID: rec.CallID, Event: rec})
		}
	}
}

// commandLoop reads commands until the socket dies.
func (c *client) commandLoop() {
	defer c.teardown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg commandMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "", ErrInvalidPayload, "undecodable message")
			continue
		}
		c.dispatch(msg)
	}
}

// readOnlyCommands are the only commands a subscribe-only connection may
// issue.
var readOnlyCommands = map[string]bool{
	CommandPing:        true,
	CommandGetSession:  true,
	CommandGetEvents:   true,
	CommandGetSessions: true,
}

func (c *client) dispatch(msg commandMessage) {
	if c.readOnly && !readOnlyCommands[msg.Type] {
		c.sendError(msg.ID, msg.CallID, ErrUnknownType,
			"command not available on subscribe-only channel: "+msg.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
	defer cancel()

	switch msg.Type {
	case CommandPing:
		c.send(serverMessage{Type: MessagePong, ID: msg.ID,
			Data: map[string]interface{}{"timestamp": time.Now().UnixMilli()}})

	case CommandSubscribe:
		if msg.CallID == "" {
			c.sendError(msg.ID, "", ErrInvalidPayload, "callSid required")
			return
		}
		// Attach first so no event slips through the gap, then snapshot and
		// replay with the pump frozen. Events recorded in between show up in
		// both the queue and the replay; the pump deduplicates them by id.
		c.pumpMu.Lock()
		c.h.registry.Subscribe(msg.CallID, c)
		ackData := map[string]interface{}{"subscribed": msg.CallID}
		sess, live := c.h.registry.Get(msg.CallID)
		if live {
			ackData["session"] = sess.Snapshot()
		}
		c.ack(msg, ackData)
		// Replay after the ack so the observer can tell history from live.
		if live {
			for _, rec := range sess.RecentEvents(ReplayCount) {
				c.send(serverMessage{Type: MessageEvent, CallID: rec.CallID, Event: rec})
				c.replayed[rec.ID] = true
			}
		}
		c.pumpMu.Unlock()

	case CommandUnsubscribe:
		if msg.CallID == "" {
			c.sendError(msg.ID, "", ErrInvalidPayload, "callSid required")
			return
		}
		c.h.registry.Unsubscribe(msg.CallID, c)
		c.ack(msg, map[string]interface{}{"unsubscribed": msg.CallID})

	case CommandSessionUpdate:
		var patch internal_session.AIConfigPatch
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &patch); err != nil {
				c.sendError(msg.ID, msg.CallID, ErrInvalidPayload, "undecodable config patch")
				return
			}
		}
		snap, err := c.h.commands.UpdateSessionConfig(ctx, msg.CallID, patch)
		if err != nil {
			c.commandError(msg, err)
			return
		}
		c.ack(msg, snap)

	case CommandInterrupt:
		c.simple(msg, c.h.commands.Interrupt(ctx, msg.CallID))

	case CommandTriggerResponse:
		c.simple(msg, c.h.commands.TriggerResponse(ctx, msg.CallID))

	case CommandSendText:
		var payload sendTextPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Text == "" {
			c.sendError(msg.ID, msg.CallID, ErrInvalidPayload, "text required")
			return
		}
		if payload.Role == "" {
			payload.Role = "user"
		}
		c.simple(msg, c.h.commands.SendText(ctx, msg.CallID, payload.Role, payload.Text))

	case CommandEndCall:
		c.simple(msg, c.h.commands.EndCall(ctx, msg.CallID))

	case CommandStartCall:
		var payload startCallPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.To == "" {
			c.sendError(msg.ID, "", ErrInvalidPayload, "destination number required")
			return
		}
		var patch *internal_session.AIConfigPatch
		if len(payload.Config) > 0 {
			patch = &internal_session.AIConfigPatch{}
			if err := json.Unmarshal(payload.Config, patch); err != nil {
				c.sendError(msg.ID, "", ErrInvalidPayload, "undecodable config")
				return
			}
		}
		callID, err := c.h.commands.StartOutboundCall(ctx, payload.To, patch)
		if err != nil {
			c.commandError(msg, err)
			return
		}
		c.ack(msg, map[string]interface{}{"callSid": callID})

	case CommandGetSessions:
		sessions := c.h.registry.Sessions()
		snaps := make([]internal_session.Snapshot, 0, len(sessions))
		for _, s := range sessions {
			snaps = append(snaps, s.Snapshot())
		}
		c.ack(msg, snaps)

	case CommandGetSession:
		sess, ok := c.h.registry.Get(msg.CallID)
		if !ok {
			c.sendError(msg.ID, msg.CallID, ErrSessionNotFound, "no such session")
			return
		}
		c.ack(msg, sess.Snapshot())

	case CommandGetEvents:
		sess, ok := c.h.registry.Get(msg.CallID)
		if !ok {
			c.sendError(msg.ID, msg.CallID, ErrSessionNotFound, "no such session")
			return
		}
		count := ReplayCount
		if len(msg.Data) > 0 {
			var payload getEventsPayload
			if err := json.Unmarshal(msg.Data, &payload); err == nil && payload.Count > 0 {
				count = payload.Count
			}
		}
		c.ack(msg, sess.RecentEvents(count))

	default:
		c.sendError(msg.ID, msg.CallID, ErrUnknownType, "unknown command: "+msg.Type)
	}
}

func (c *client) simple(msg commandMessage, err error) {
	if err != nil {
		c.commandError(msg, err)
		return
	}
	c.ack(msg, nil)
}

func (c *client) ack(msg commandMessage, data interface{}) {
	c.send(serverMessage{Type: MessageAck, ID: msg.ID, CallID: msg.CallID, Data: data})
}

func (c *client) commandError(msg commandMessage, err error) {
	code := ErrCommandFailed
	if errors.Is(err, internal_session.ErrSessionNotFound) {
		code = ErrSessionNotFound
	}
	c.sendError(msg.ID, msg.CallID, code, err.Error())
}

func (c *client) sendError(id, callID, code, message string) {
	c.send(serverMessage{
		Type:   MessageError,
		ID:     id,
		CallID: callID,
		Error:  &commandError{Code: code, Message: message},
	})
}

func (c *client) send(msg serverMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.h.logger.Debugw("observer write failed", "error", err)
	}
}

func (c *client) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.h.registry.UnsubscribeAll(c)
	_ = c.ws.Close()
}
