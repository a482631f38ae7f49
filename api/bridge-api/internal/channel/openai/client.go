// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channel_openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_audio "github.com/relayvoice/api/bridge-api/internal/audio"
	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
	"github.com/relayvoice/pkg/commons"
	"github.com/relayvoice/pkg/utils"
)

// DefaultHandshakeTimeout bounds the realtime endpoint dial.
const DefaultHandshakeTimeout = 10 * time.Second

// EventHandler receives every decoded server event plus the disconnect
// notification. Calls arrive from the client's single read loop, in wire
// order.
type EventHandler interface {
	HandleAIEvent(callID string, ev ServerEvent)
	HandleAIDisconnect(callID string, err error)
}

// Options configures the realtime connection.
type Options struct {
	URL    string // base endpoint, e.g. wss://api.openai.com/v1/realtime
	APIKey string
	Model  string
}

// Client is one realtime WebSocket connection, owned by a single call
// session. It implements internal_session.AIPeer; all writers share one
// mutex because gorilla permits only one concurrent writer.
type Client struct {
	logger  commons.Logger
	callID  string
	handler EventHandler

	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

var _ internal_session.AIPeer = (*Client)(nil)

// Dial connects and authenticates against the realtime endpoint and starts
// the read loop. The caller sends session.update once connected.
func Dial(ctx context.Context, logger commons.Logger, opts Options, callID string, handler EventHandler) (*Client, error) {
	endpoint, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime endpoint: %w", err)
	}
	if opts.Model != "" {
		q := endpoint.Query()
		q.Set("model", opts.Model)
		endpoint.RawQuery = q.Encode()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+opts.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	c := &Client{
		logger:  logger,
		callID:  callID,
		handler: handler,
		conn:    conn,
	}
	utils.Go(ctx, c.readLoop)
	return c, nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			intentional := c.closed
			c.mu.Unlock()
			if !intentional {
				c.handler.HandleAIDisconnect(c.callID, err)
			}
			return
		}

		var ev ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warnw("undecodable realtime event",
				"call_sid", c.callID, "error", err)
			continue
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err == nil {
			ev.Raw = raw
		}
		c.handler.HandleAIEvent(c.callID, ev)
	}
}

func (c *Client) send(ev clientEvent) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("realtime connection closed")
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ev)
}

// SendSessionUpdate pushes the full session configuration.
func (c *Client) SendSessionUpdate(cfg internal_session.AIConfig) error {
	return c.send(clientEvent{
		Type:    clientEventSessionUpdate,
		Session: buildSessionPayload(cfg),
	})
}

// AppendAudio streams PCM16 24 kHz samples into the input buffer.
func (c *Client) AppendAudio(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	return c.send(clientEvent{
		Type:  clientEventInputAppend,
		Audio: base64.StdEncoding.EncodeToString(internal_audio.SamplesToBytes(samples)),
	})
}

// CommitInput closes the current user turn (push-to-talk mode).
func (c *Client) CommitInput() error {
	return c.send(clientEvent{Type: clientEventInputCommit})
}

// ClearInput discards buffered, uncommitted user audio.
func (c *Client) ClearInput() error {
	return c.send(clientEvent{Type: clientEventInputClear})
}

// CreateResponse asks the model to answer the conversation so far.
func (c *Client) CreateResponse() error {
	return c.send(clientEvent{Type: clientEventResponseCreate})
}

// CancelResponse aborts the in-flight response, if any.
func (c *Client) CancelResponse() error {
	return c.send(clientEvent{Type: clientEventResponseCancel})
}

// CreateTextItem injects a text message into the conversation.
func (c *Client) CreateTextItem(role, text string) error {
	return c.send(clientEvent{
		Type: clientEventConversationItem,
		Item: buildTextItem(role, text),
	})
}

// Close shuts the connection down; the read loop exits without reporting a
// disconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
