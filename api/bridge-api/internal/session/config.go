// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

// TurnDetectionMode selects how end-of-user-turn is decided.
type TurnDetectionMode string

const (
	// TurnDetectionServerVAD uses threshold-based server voice activity
	// detection.
	TurnDetectionServerVAD TurnDetectionMode = "server_vad"
	// TurnDetectionSemantic uses model-driven semantic end-of-turn detection.
	TurnDetectionSemantic TurnDetectionMode = "semantic_vad"
	// TurnDetectionNone disables detection; the user side commits turns
	// manually (push-to-talk).
	TurnDetectionNone TurnDetectionMode = "none"
)

// TurnDetection configures voice activity detection on the AI peer.
type TurnDetection struct {
	Mode TurnDetectionMode `json:"mode"`

	// Server VAD fields.
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefixPaddingMs,omitempty"`
	SilenceDurationMs int     `json:"silenceDurationMs,omitempty"`
	IdleTimeoutMs     int     `json:"idleTimeoutMs,omitempty"`

	// Semantic VAD fields: one of low, medium, high, auto.
	Eagerness string `json:"eagerness,omitempty"`

	// Common fields; nil means provider default (true).
	CreateResponse    *bool `json:"createResponse,omitempty"`
	InterruptResponse *bool `json:"interruptResponse,omitempty"`
}

// NoiseReduction settings for the user input track.
const (
	NoiseReductionNearField = "near_field"
	NoiseReductionFarField  = "far_field"
	NoiseReductionOff       = "off"
)

// AIConfig is the session-scoped configuration snapshot sent to the AI peer
// on connect and on every session.update command.
type AIConfig struct {
	Voice string `json:"voice,omitempty"`
	// VoiceSpeed in [0.5, 1.5]; 1.0 (or 0) is the provider default and is
	// omitted from the wire message.
	VoiceSpeed   float64 `json:"voiceSpeed,omitempty"`
	Instructions string  `json:"instructions,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	// MaxOutputTokens <= 0 means unbounded ("inf" on the wire).
	MaxOutputTokens    int            `json:"maxOutputTokens,omitempty"`
	TranscriptionModel string         `json:"transcriptionModel,omitempty"`
	NoiseReduction     string         `json:"noiseReduction,omitempty"`
	TurnDetection      *TurnDetection `json:"turnDetection,omitempty"`
}

// DefaultAIConfig is the configuration used when a session is created
// without an explicit config.
func DefaultAIConfig() AIConfig {
	return AIConfig{
		Voice:        "alloy",
		Instructions: "You are a helpful AI assistant.",
		Temperature:  0.8,
		TurnDetection: &TurnDetection{
			Mode:              TurnDetectionServerVAD,
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
	}
}

// AllowsInterrupt reports whether barge-in may cancel an in-flight
// assistant response under the current turn-detection settings.
func (c AIConfig) AllowsInterrupt() bool {
	td := c.TurnDetection
	if td == nil || td.Mode == TurnDetectionNone {
		return false
	}
	return td.InterruptResponse == nil || *td.InterruptResponse
}

// AIConfigPatch is a partial config supplied by an observer's
// session.update command. Nil fields are left untouched.
type AIConfigPatch struct {
	Voice              *string        `json:"voice,omitempty"`
	VoiceSpeed         *float64       `json:"voiceSpeed,omitempty"`
	Instructions       *string        `json:"instructions,omitempty"`
	Temperature        *float64       `json:"temperature,omitempty"`
	MaxOutputTokens    *int           `json:"maxOutputTokens,omitempty"`
	TranscriptionModel *string        `json:"transcriptionModel,omitempty"`
	NoiseReduction     *string        `json:"noiseReduction,omitempty"`
	TurnDetection      *TurnDetection `json:"turnDetection,omitempty"`
}

// Apply merges the patch into c.
func (c *AIConfig) Apply(p AIConfigPatch) {
	if p.Voice != nil {
		c.Voice = *p.Voice
	}
	if p.VoiceSpeed != nil {
		c.VoiceSpeed = *p.VoiceSpeed
	}
	if p.Instructions != nil {
		c.Instructions = *p.Instructions
	}
	if p.Temperature != nil {
		c.Temperature = *p.Temperature
	}
	if p.MaxOutputTokens != nil {
		c.MaxOutputTokens = *p.MaxOutputTokens
	}
	if p.TranscriptionModel != nil {
		c.TranscriptionModel = *p.TranscriptionModel
	}
	if p.NoiseReduction != nil {
		c.NoiseReduction = *p.NoiseReduction
	}
	if p.TurnDetection != nil {
		td := *p.TurnDetection
		c.TurnDetection = &td
	}
}
