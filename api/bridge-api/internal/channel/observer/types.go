// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channel_observer

import (
	"encoding/json"

	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
)

// Command types accepted from an authenticated observer.
const (
	CommandAuth            = "auth"
	CommandSubscribe       = "subscribe"
	CommandUnsubscribe     = "unsubscribe"
	CommandSessionUpdate   = "session.update"
	CommandInterrupt       = "call.interrupt"
	CommandTriggerResponse = "call.trigger_response"
	CommandSendText        = "call.send_text"
	CommandEndCall         = "call.end"
	CommandStartCall       = "call.start"
	CommandGetSessions     = "get.sessions"
	CommandGetSession      = "get.session"
	CommandGetEvents       = "get.events"
	CommandPing            = "ping"
)

// Server message types.
const (
	MessageAck   = "ack"
	MessageError = "error"
	MessageEvent = "event"
	MessagePong  = "pong"
)

// Error codes returned to observers.
const (
	ErrAuthFailed      = "AUTH_FAILED"
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrInvalidPayload  = "INVALID_PAYLOAD"
	ErrUnknownType     = "UNKNOWN_TYPE"
	ErrCommandFailed   = "COMMAND_FAILED"
)

// commandMessage is one observer-to-bridge frame.
type commandMessage struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	CallID string          `json:"callSid,omitempty"`
	Token  string          `json:"token,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// serverMessage is one bridge-to-observer frame. Event frames carry the
// record; ack frames carry command-specific data.
type serverMessage struct {
	Type   string                 `json:"type"`
	ID     string                 `json:"id,omitempty"`
	CallID string                 `json:"callSid,omitempty"`
	Data   interface{}            `json:"data,omitempty"`
	Event  *internal_event.Record `json:"event,omitempty"`
	Error  *commandError          `json:"error,omitempty"`
}

type commandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendTextPayload is the data body of call.send_text.
type sendTextPayload struct {
	Role string `json:"role,omitempty"`
	Text string `json:"text"`
}

// startCallPayload is the data body of call.start. Config, when present,
// overrides the default session configuration for the new call.
type startCallPayload struct {
	To     string          `json:"to"`
	Config json.RawMessage `json:"config,omitempty"`
}

// getEventsPayload is the data body of get.events.
type getEventsPayload struct {
	Count int `json:"count,omitempty"`
}
