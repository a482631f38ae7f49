// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channel_observer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
	"github.com/relayvoice/pkg/commons"
	"github.com/relayvoice/pkg/utils"
)

const (
	// ReplayCount is how many recent events a new subscriber receives.
	ReplayCount = 50
	// CommandTimeout bounds each command's execution.
	CommandTimeout = 5 * time.Second
	// AuthTimeout bounds the wait for the first (auth) message.
	AuthTimeout = 10 * time.Second

	writeTimeout = 5 * time.Second
)

// Commands is the control surface observers drive. Implemented by the
// bridge orchestrator; kept narrow so the channel stays testable without a
// live call.
type Commands interface {
	UpdateSessionConfig(ctx context.Context, callID string, patch internal_session.AIConfigPatch) (internal_session.Snapshot, error)
	Interrupt(ctx context.Context, callID string) error
	TriggerResponse(ctx context.Context, callID string) error
	SendText(ctx context.Context, callID, role, text string) error
	EndCall(ctx context.Context, callID string) error
	StartOutboundCall(ctx context.Context, toNumber string, patch *internal_session.AIConfigPatch) (string, error)
}

// Handler terminates observer WebSockets.
type Handler struct {
	logger    commons.Logger
	registry  *internal_session.Registry
	commands  Commands
	jwtSecret []byte
	upgrader  websocket.Upgrader
}

// NewHandler creates the observer handler. An empty jwtSecret disables
// token verification; any non-empty token authenticates.
func NewHandler(logger commons.Logger, registry *internal_session.Registry, commands Commands, jwtSecret string) *Handler {
	return &Handler{
		logger:    logger,
		registry:  registry,
		commands:  commands,
		jwtSecret: []byte(jwtSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve is the gin handler for the observer route. The first frame must be
// an auth command; everything before authentication fails closed.
func (h *Handler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("observer upgrade failed", "error", err)
		return
	}

	cl := newClient(h, ws)
	if !cl.authenticate() {
		return
	}
	utils.Go(c.Request.Context(), cl.eventPump)
	cl.commandLoop()
}

// ServeEvents is the subscribe-only observer route, pre-bound to one call.
// After authentication the connection receives the replay and live stream
// for the path's callId; mutating commands are rejected.
func (h *Handler) ServeEvents(c *gin.Context) {
	callID := c.Param("callId")
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("observer upgrade failed", "error", err)
		return
	}

	cl := newClient(h, ws)
	cl.readOnly = true
	if !cl.authenticate() {
		return
	}
	// Attach before the snapshot so nothing slips through the gap; events
	// recorded in between land in both the queue and the replay, and the
	// pump drops the queued duplicates by id.
	h.registry.Subscribe(callID, cl)
	if sess, ok := h.registry.Get(callID); ok {
		cl.pumpMu.Lock()
		for _, rec := range sess.RecentEvents(ReplayCount) {
			cl.send(serverMessage{Type: MessageEvent, CallID: rec.CallID, Event: rec})
			cl.replayed[rec.ID] = true
		}
		cl.pumpMu.Unlock()
	}
	utils.Go(c.Request.Context(), cl.eventPump)
	cl.commandLoop()
}

func (h *Handler) verifyToken(token string) error {
	if token == "" {
		return fmt.Errorf("missing token")
	}
	if len(h.jwtSecret) == 0 {
		return nil
	}
	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	return err
}
