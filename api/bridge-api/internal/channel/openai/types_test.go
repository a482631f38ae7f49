// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channel_openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
	"github.com/relayvoice/pkg/utils"
)

func TestSessionPayloadDefaults(t *testing.T) {
	payload := buildSessionPayload(internal_session.DefaultAIConfig())

	assert.Equal(t, "pcm16", payload["input_audio_format"])
	assert.Equal(t, "pcm16", payload["output_audio_format"])
	assert.Equal(t, "alloy", payload["voice"])
	assert.Equal(t, "inf", payload["max_response_output_tokens"])
	// default speed is omitted
	_, ok := payload["speed"]
	assert.False(t, ok)

	td, ok := payload["turn_detection"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "server_vad", td["type"])
	assert.Equal(t, 0.5, td["threshold"])
	assert.Equal(t, 300, td["prefix_padding_ms"])
	assert.Equal(t, 500, td["silence_duration_ms"])
}

func TestSessionPayloadBoundedTokensAndSpeed(t *testing.T) {
	cfg := internal_session.DefaultAIConfig()
	cfg.MaxOutputTokens = 2048
	cfg.VoiceSpeed = 1.2
	payload := buildSessionPayload(cfg)

	assert.Equal(t, 2048, payload["max_response_output_tokens"])
	assert.Equal(t, 1.2, payload["speed"])
}

func TestSessionPayloadTranscriptionAndNoiseReduction(t *testing.T) {
	cfg := internal_session.DefaultAIConfig()
	cfg.TranscriptionModel = "whisper-1"
	cfg.NoiseReduction = internal_session.NoiseReductionFarField
	payload := buildSessionPayload(cfg)

	tr, ok := payload["input_audio_transcription"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "whisper-1", tr["model"])

	nr, ok := payload["input_audio_noise_reduction"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "far_field", nr["type"])
}

func TestSessionPayloadNoiseReductionOffIsNull(t *testing.T) {
	cfg := internal_session.DefaultAIConfig()
	cfg.NoiseReduction = internal_session.NoiseReductionOff
	payload := buildSessionPayload(cfg)

	v, ok := payload["input_audio_noise_reduction"]
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestTurnDetectionDisabledIsNull(t *testing.T) {
	assert.Nil(t, buildTurnDetection(nil))
	assert.Nil(t, buildTurnDetection(&internal_session.TurnDetection{
		Mode: internal_session.TurnDetectionNone,
	}))
}

func TestTurnDetectionSemantic(t *testing.T) {
	out := buildTurnDetection(&internal_session.TurnDetection{
		Mode:              internal_session.TurnDetectionSemantic,
		Eagerness:         "high",
		CreateResponse:    utils.Ptr(true),
		InterruptResponse: utils.Ptr(false),
	})
	td, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "semantic_vad", td["type"])
	assert.Equal(t, "high", td["eagerness"])
	assert.Equal(t, true, td["create_response"])
	assert.Equal(t, false, td["interrupt_response"])
	// server VAD fields stay out of semantic payloads
	_, ok = td["threshold"]
	assert.False(t, ok)
}

func TestTextItemRoles(t *testing.T) {
	user := buildTextItem("user", "hello")
	content := user["content"].([]map[string]interface{})
	assert.Equal(t, "input_text", content[0]["type"])

	assistant := buildTextItem("assistant", "hi")
	content = assistant["content"].([]map[string]interface{})
	assert.Equal(t, "text", content[0]["type"])
}
