// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channel_telephony

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
	"github.com/relayvoice/pkg/commons"
)

const (
	// SendQueueSize bounds the outbound mailbox: roughly two seconds of
	// 20 ms frames. When full, the oldest frame is dropped so live audio
	// stays current rather than drifting behind.
	SendQueueSize = 100

	writeTimeout = 5 * time.Second
)

// Conn is one provider media WebSocket. Outbound frames go through a
// bounded mailbox drained by a single write pump; it implements
// internal_session.TelephonyPeer.
type Conn struct {
	logger commons.Logger
	ws     *websocket.Conn

	outbox chan outboundFrame
	done   chan struct{}

	// onDrop is invoked once per dropped frame, outside any lock.
	onDrop func(dropped int)

	mu        sync.Mutex
	streamSid string
	callID    string
	closed    bool
}

var _ internal_session.TelephonyPeer = (*Conn)(nil)

func newConn(logger commons.Logger, ws *websocket.Conn) *Conn {
	return &Conn{
		logger: logger,
		ws:     ws,
		outbox: make(chan outboundFrame, SendQueueSize),
		done:   make(chan struct{}),
	}
}

// bind fixes the call and stream identity once the start frame arrives.
func (c *Conn) bind(callID, streamSid string) {
	c.mu.Lock()
	c.callID = callID
	c.streamSid = streamSid
	c.mu.Unlock()
}

// CallID returns the bound callSid, empty before the start frame.
func (c *Conn) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// SetDropHandler installs the backpressure callback.
func (c *Conn) SetDropHandler(fn func(dropped int)) {
	c.onDrop = fn
}

// enqueue pushes a frame into the mailbox, dropping the oldest entry when
// the queue is full.
func (c *Conn) enqueue(frame outboundFrame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("media stream closed")
	}
	c.mu.Unlock()

	for {
		select {
		case <-c.done:
			return fmt.Errorf("media stream closed")
		case c.outbox <- frame:
			return nil
		default:
		}
		select {
		case <-c.outbox:
			if c.onDrop != nil {
				c.onDrop(1)
			}
		default:
		}
	}
}

// SendMedia queues one µ-law chunk for playback.
func (c *Conn) SendMedia(mulaw []byte) error {
	c.mu.Lock()
	sid := c.streamSid
	c.mu.Unlock()
	if sid == "" {
		return fmt.Errorf("media before stream start")
	}
	return c.enqueue(outboundFrame{
		Event:     eventMedia,
		StreamSid: sid,
		Media:     &outboundMedia{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	})
}

// SendMark queues a playback-position marker.
func (c *Conn) SendMark(name string) error {
	c.mu.Lock()
	sid := c.streamSid
	c.mu.Unlock()
	if sid == "" {
		return fmt.Errorf("mark before stream start")
	}
	return c.enqueue(outboundFrame{
		Event:     eventMark,
		StreamSid: sid,
		Mark:      &markFrame{Name: name},
	})
}

// SendClear tells the provider to discard queued, unplayed audio.
func (c *Conn) SendClear() error {
	c.mu.Lock()
	sid := c.streamSid
	c.mu.Unlock()
	if sid == "" {
		return fmt.Errorf("clear before stream start")
	}
	return c.enqueue(outboundFrame{Event: eventClear, StreamSid: sid})
}

// Close shuts the socket down with the given close code. Idempotent.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// writePump drains the mailbox onto the socket until the connection closes
// or a write fails.
func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.logger.Debugw("media stream write failed",
					"call_sid", c.CallID(), "error", err)
				return
			}
		}
	}
}
