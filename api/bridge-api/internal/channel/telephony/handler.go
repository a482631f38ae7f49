// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channel_telephony

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/relayvoice/pkg/commons"
	"github.com/relayvoice/pkg/utils"
)

// Bridge is the orchestration surface the media stream feeds into. All
// callbacks run on the connection's read goroutine, in frame order.
type Bridge interface {
	// TelephonyConnected fires on the provider's connected frame, before
	// the call identity is known.
	TelephonyConnected(peer *Conn)
	// TelephonyStart binds the stream to a call. A non-nil error tears the
	// connection down.
	TelephonyStart(peer *Conn, start StartFrame) error
	// TelephonyMedia delivers one decoded µ-law chunk.
	TelephonyMedia(callID string, mulaw []byte, timestampMs int64)
	// TelephonyMark echoes a previously sent playback marker.
	TelephonyMark(callID, name string)
	// TelephonyStop fires on the provider's stop frame.
	TelephonyStop(callID string)
	// TelephonyWarn reports a malformed or out-of-protocol frame. The
	// connection stays up.
	TelephonyWarn(callID, detail string)
	// TelephonyClosed fires exactly once when the socket is gone.
	TelephonyClosed(callID string, err error)
}

// Handler terminates provider media WebSockets and pumps their frames into
// the bridge.
type Handler struct {
	logger   commons.Logger
	bridge   Bridge
	upgrader websocket.Upgrader
}

// NewHandler creates the media stream handler.
func NewHandler(logger commons.Logger, bridge Bridge) *Handler {
	return &Handler{
		logger: logger,
		bridge: bridge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Provider dials server-to-server with no browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve is the gin handler for the media stream route.
func (h *Handler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("media stream upgrade failed", "error", err)
		return
	}

	conn := newConn(h.logger, ws)
	utils.Go(c.Request.Context(), conn.writePump)
	h.readLoop(conn)
}

func (h *Handler) readLoop(conn *Conn) {
	started := false
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			h.bridge.TelephonyClosed(conn.CallID(), err)
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.bridge.TelephonyWarn(conn.CallID(), "undecodable frame: "+err.Error())
			continue
		}

		switch frame.Event {
		case eventConnected:
			h.bridge.TelephonyConnected(conn)

		case eventStart:
			if frame.Start == nil {
				h.bridge.TelephonyWarn(conn.CallID(), "start frame without body")
				continue
			}
			if started {
				h.bridge.TelephonyWarn(conn.CallID(), "duplicate start frame")
				continue
			}
			conn.bind(frame.Start.CallSid, frame.Start.StreamSid)
			if err := h.bridge.TelephonyStart(conn, *frame.Start); err != nil {
				h.logger.Errorw("stream start rejected",
					"call_sid", frame.Start.CallSid, "error", err)
				_ = conn.Close(websocket.CloseInternalServerErr, "start rejected")
				h.bridge.TelephonyClosed(conn.CallID(), err)
				return
			}
			started = true

		case eventMedia:
			if !started || frame.Media == nil {
				h.bridge.TelephonyWarn(conn.CallID(), "media before start")
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil {
				h.bridge.TelephonyWarn(conn.CallID(), "undecodable media payload")
				continue
			}
			ts, _ := strconv.ParseInt(frame.Media.Timestamp, 10, 64)
			h.bridge.TelephonyMedia(conn.CallID(), mulaw, ts)

		case eventMark:
			if frame.Mark != nil {
				h.bridge.TelephonyMark(conn.CallID(), frame.Mark.Name)
			}

		case eventStop:
			h.bridge.TelephonyStop(conn.CallID())

		default:
			h.bridge.TelephonyWarn(conn.CallID(), "unknown event: "+frame.Event)
		}
	}
}
