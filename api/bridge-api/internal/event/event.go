// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_event

import (
	"time"

	"github.com/google/uuid"
)

// Direction of an event from the bridge process's perspective.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Kind is the closed set of event kinds a session can record. Unknown
// AI-peer event types are recorded verbatim under KindAIUnknown.
type Kind string

const (
	// Call lifecycle
	KindCallStarted      Kind = "call.started"
	KindCallConnected    Kind = "call.connected"
	KindCallDisconnected Kind = "call.disconnected"
	KindCallError        Kind = "error"

	// Telephony peer
	KindTelephonyConnected    Kind = "telephony.connected"
	KindTelephonyMark         Kind = "telephony.mark"
	KindTelephonyClear        Kind = "telephony.clear"
	KindTelephonyBackpressure Kind = "telephony.backpressure"

	// AI peer, session level
	KindAISessionCreated Kind = "session.created"
	KindAISessionUpdated Kind = "session.updated"
	KindAIDisconnected   Kind = "openai.disconnected"

	// AI peer, turn taking
	KindSpeechStarted      Kind = "input_audio_buffer.speech_started"
	KindSpeechStopped      Kind = "input_audio_buffer.speech_stopped"
	KindUserTranscript     Kind = "conversation.item.input_audio_transcription.completed"
	KindResponseCreated    Kind = "response.created"
	KindResponseAudioDone  Kind = "response.output_audio.done"
	KindTranscriptDelta    Kind = "response.output_audio_transcript.delta"
	KindTranscriptDone     Kind = "response.output_audio_transcript.done"
	KindResponseDone       Kind = "response.done"
	KindResponseCancelled  Kind = "response.cancelled"
	KindRateLimitsUpdated  Kind = "rate_limits.updated"
	KindAIUnknown          Kind = "openai.unknown"

	// Observer channel
	KindObserverCommand Kind = "observer.command"
	KindTextSent        Kind = "text.sent"

	// Internal
	KindProtocolWarn     Kind = "protocol.warn"
	KindPersistenceError Kind = "persistence.error"
)

// Record is one event on a session's stream. Payload is an opaque
// structured value serialised as-is toward observers and persistence.
type Record struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	CallID    string                 `json:"callSid"`
	Kind      Kind                   `json:"type"`
	Direction Direction              `json:"direction"`
	Payload   map[string]interface{} `json:"data,omitempty"`
}

// New creates a Record stamped with the current time.
func New(callID string, kind Kind, direction Direction, payload map[string]interface{}) *Record {
	return &Record{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		CallID:    callID,
		Kind:      kind,
		Direction: direction,
		Payload:   payload,
	}
}
