// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channel_openai

import (
	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
)

// Client event types sent to the realtime endpoint.
const (
	clientEventSessionUpdate    = "session.update"
	clientEventInputAppend      = "input_audio_buffer.append"
	clientEventInputCommit      = "input_audio_buffer.commit"
	clientEventInputClear       = "input_audio_buffer.clear"
	clientEventResponseCreate   = "response.create"
	clientEventResponseCancel   = "response.cancel"
	clientEventConversationItem = "conversation.item.create"
)

// Server event types the bridge reacts to. Anything else is surfaced as an
// unknown event and recorded verbatim.
const (
	ServerEventSessionCreated    = "session.created"
	ServerEventSessionUpdated    = "session.updated"
	ServerEventSpeechStarted     = "input_audio_buffer.speech_started"
	ServerEventSpeechStopped     = "input_audio_buffer.speech_stopped"
	ServerEventInputCommitted    = "input_audio_buffer.committed"
	ServerEventUserTranscript    = "conversation.item.input_audio_transcription.completed"
	ServerEventResponseCreated   = "response.created"
	ServerEventAudioDelta        = "response.output_audio.delta"
	ServerEventAudioDone         = "response.output_audio.done"
	ServerEventTranscriptDelta   = "response.output_audio_transcript.delta"
	ServerEventTranscriptDone    = "response.output_audio_transcript.done"
	ServerEventResponseDone      = "response.done"
	ServerEventResponseCancelled = "response.cancelled"
	ServerEventRateLimitsUpdated = "rate_limits.updated"
	ServerEventError             = "error"
)

// ServerEvent is the decoded shape of one realtime server message. Fields
// are populated per event type; Raw always carries the original payload.
type ServerEvent struct {
	Type       string                 `json:"type"`
	EventID    string                 `json:"event_id,omitempty"`
	ItemID     string                 `json:"item_id,omitempty"`
	ResponseID string                 `json:"response_id,omitempty"`
	Delta      string                 `json:"delta,omitempty"`
	Transcript string                 `json:"transcript,omitempty"`
	Error      *ServerError           `json:"error,omitempty"`
	Raw        map[string]interface{} `json:"-"`
}

// ServerError is the error body of a realtime "error" event.
type ServerError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type clientEvent struct {
	Type    string                 `json:"type"`
	Audio   string                 `json:"audio,omitempty"`
	Session map[string]interface{} `json:"session,omitempty"`
	Item    map[string]interface{} `json:"item,omitempty"`
}

// buildSessionPayload renders the session-scoped configuration as the
// realtime session.update body. Audio formats are pinned to 24 kHz PCM16 on
// both directions; turn_detection is an explicit null when detection is
// disabled so the provider drops its default VAD.
func buildSessionPayload(cfg internal_session.AIConfig) map[string]interface{} {
	session := map[string]interface{}{
		"modalities":          []string{"audio", "text"},
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
	}
	if cfg.Voice != "" {
		session["voice"] = cfg.Voice
	}
	if cfg.VoiceSpeed != 0 && cfg.VoiceSpeed != 1.0 {
		session["speed"] = cfg.VoiceSpeed
	}
	if cfg.Instructions != "" {
		session["instructions"] = cfg.Instructions
	}
	if cfg.Temperature != 0 {
		session["temperature"] = cfg.Temperature
	}
	if cfg.MaxOutputTokens > 0 {
		session["max_response_output_tokens"] = cfg.MaxOutputTokens
	} else {
		session["max_response_output_tokens"] = "inf"
	}
	if cfg.TranscriptionModel != "" {
		session["input_audio_transcription"] = map[string]interface{}{
			"model": cfg.TranscriptionModel,
		}
	}
	switch cfg.NoiseReduction {
	case internal_session.NoiseReductionNearField, internal_session.NoiseReductionFarField:
		session["input_audio_noise_reduction"] = map[string]interface{}{
			"type": cfg.NoiseReduction,
		}
	case internal_session.NoiseReductionOff:
		session["input_audio_noise_reduction"] = nil
	}
	session["turn_detection"] = buildTurnDetection(cfg.TurnDetection)
	return session
}

func buildTurnDetection(td *internal_session.TurnDetection) interface{} {
	if td == nil || td.Mode == internal_session.TurnDetectionNone {
		return nil
	}
	out := map[string]interface{}{
		"type": string(td.Mode),
	}
	switch td.Mode {
	case internal_session.TurnDetectionServerVAD:
		if td.Threshold != 0 {
			out["threshold"] = td.Threshold
		}
		if td.PrefixPaddingMs != 0 {
			out["prefix_padding_ms"] = td.PrefixPaddingMs
		}
		if td.SilenceDurationMs != 0 {
			out["silence_duration_ms"] = td.SilenceDurationMs
		}
		if td.IdleTimeoutMs != 0 {
			out["idle_timeout_ms"] = td.IdleTimeoutMs
		}
	case internal_session.TurnDetectionSemantic:
		if td.Eagerness != "" {
			out["eagerness"] = td.Eagerness
		}
	}
	if td.CreateResponse != nil {
		out["create_response"] = *td.CreateResponse
	}
	if td.InterruptResponse != nil {
		out["interrupt_response"] = *td.InterruptResponse
	}
	return out
}

// buildTextItem renders a conversation.item.create body carrying one text
// message from the given role.
func buildTextItem(role, text string) map[string]interface{} {
	contentType := "input_text"
	if role == "assistant" {
		contentType = "text"
	}
	return map[string]interface{}{
		"type": "message",
		"role": role,
		"content": []map[string]interface{}{
			{"type": contentType, "text": text},
		},
	}
}
