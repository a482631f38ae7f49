// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_bridge

import (
	"encoding/base64"
	"time"

	internal_audio "github.com/relayvoice/api/bridge-api/internal/audio"
	channel_openai "github.com/relayvoice/api/bridge-api/internal/channel/openai"
	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
)

// HandleAIEvent reacts to one realtime server event. Runs on the AI
// connection's read goroutine, in wire order.
func (o *Orchestrator) HandleAIEvent(callID string, ev channel_openai.ServerEvent) {
	st := o.state(callID)
	if st == nil {
		return
	}
	sess := st.sess

	switch ev.Type {
	case channel_openai.ServerEventSessionCreated:
		sess.Record(internal_event.KindAISessionCreated, internal_event.DirectionIncoming, nil)
		o.activate(sess)

	case channel_openai.ServerEventSessionUpdated:
		sess.Record(internal_event.KindAISessionUpdated, internal_event.DirectionIncoming, nil)
		// Some providers skip session.created on resume; the first ack still
		// activates.
		o.activate(sess)

	case channel_openai.ServerEventSpeechStarted:
		sess.Record(internal_event.KindSpeechStarted, internal_event.DirectionIncoming, nil)
		o.bargeIn(st)

	case channel_openai.ServerEventSpeechStopped:
		sess.Record(internal_event.KindSpeechStopped, internal_event.DirectionIncoming, nil)

	case channel_openai.ServerEventUserTranscript:
		sess.Record(internal_event.KindUserTranscript, internal_event.DirectionIncoming,
			map[string]interface{}{"transcript": ev.Transcript, "itemId": ev.ItemID})
		sess.AppendTranscript("user", ev.Transcript, sess.RelativeMs(time.Now()))

	case channel_openai.ServerEventResponseCreated:
		sess.SetAssistantSpeaking(true)
		sess.Record(internal_event.KindResponseCreated, internal_event.DirectionIncoming,
			map[string]interface{}{"responseId": ev.ResponseID})

	case channel_openai.ServerEventAudioDelta:
		o.assistantAudio(st, ev.Delta)

	case channel_openai.ServerEventAudioDone:
		sess.SetAssistantSpeaking(false)
		sess.Record(internal_event.KindResponseAudioDone, internal_event.DirectionIncoming,
			map[string]interface{}{"responseId": ev.ResponseID})
		// Marker lets the provider tell us when playback actually finished.
		if tel := sess.Telephony(); tel != nil {
			name := st.nextMark()
			if err := tel.SendMark(name); err == nil {
				sess.Record(internal_event.KindTelephonyMark, internal_event.DirectionOutgoing,
					map[string]interface{}{"name": name})
			}
		}

	case channel_openai.ServerEventTranscriptDelta:
		sess.Record(internal_event.KindTranscriptDelta, internal_event.DirectionIncoming,
			map[string]interface{}{"delta": ev.Delta, "responseId": ev.ResponseID})

	case channel_openai.ServerEventTranscriptDone:
		sess.Record(internal_event.KindTranscriptDone, internal_event.DirectionIncoming,
			map[string]interface{}{"transcript": ev.Transcript, "responseId": ev.ResponseID})
		sess.AppendTranscript("assistant", ev.Transcript, sess.RelativeMs(time.Now()))

	case channel_openai.ServerEventResponseDone:
		sess.SetAssistantSpeaking(false)
		sess.Record(internal_event.KindResponseDone, internal_event.DirectionIncoming,
			map[string]interface{}{"responseId": ev.ResponseID})

	case channel_openai.ServerEventResponseCancelled:
		sess.SetAssistantSpeaking(false)
		sess.Record(internal_event.KindResponseCancelled, internal_event.DirectionIncoming,
			map[string]interface{}{"responseId": ev.ResponseID})
		// Flush the provider's playback queue so cancelled audio stops.
		if tel := sess.Telephony(); tel != nil {
			if err := tel.SendClear(); err == nil {
				sess.Record(internal_event.KindTelephonyClear, internal_event.DirectionOutgoing, nil)
			}
		}

	case channel_openai.ServerEventRateLimitsUpdated:
		sess.Record(internal_event.KindRateLimitsUpdated, internal_event.DirectionIncoming, ev.Raw)

	case channel_openai.ServerEventInputCommitted:
		// Routine ack, not worth an event.

	case channel_openai.ServerEventError:
		payload := map[string]interface{}{}
		if ev.Error != nil {
			payload["code"] = ev.Error.Code
			payload["message"] = ev.Error.Message
		}
		sess.Record(internal_event.KindCallError, internal_event.DirectionIncoming, payload)
		o.logger.Warnw("ai error event", "call_sid", callID, "payload", payload)

	default:
		sess.Record(internal_event.KindAIUnknown, internal_event.DirectionIncoming, ev.Raw)
	}
}

// activate moves the bridge into the active state on the first AI
// acknowledgement.
func (o *Orchestrator) activate(sess *internal_session.Session) {
	if sess.State() != internal_session.StateConnectingAI {
		return
	}
	if err := sess.Transition(internal_session.StateActive); err == nil {
		sess.Record(internal_event.KindCallConnected, internal_event.DirectionOutgoing, nil)
	}
}

// HandleAIDisconnect degrades the call when the AI socket drops
// unexpectedly. The telephony leg stays up: caller audio keeps being decoded
// and recorded, just not forwarded, until the provider ends the stream.
func (o *Orchestrator) HandleAIDisconnect(callID string, err error) {
	sess, ok := o.registry.Get(callID)
	if !ok {
		return
	}
	o.logger.Warnw("ai connection lost", "call_sid", callID, "error", err)
	sess.DetachAI()
	sess.SetAssistantSpeaking(false)
	_ = sess.Transition(internal_session.StateAIDisconnected)
	sess.Record(internal_event.KindAIDisconnected, internal_event.DirectionIncoming,
		map[string]interface{}{"error": err.Error()})
}

// bargeIn cancels an in-flight assistant response when the caller starts
// speaking over it, then clears the provider's playback queue so stale
// audio stops immediately.
func (o *Orchestrator) bargeIn(st *callState) {
	sess := st.sess
	if !sess.AssistantSpeaking() || !sess.Config().AllowsInterrupt() {
		return
	}
	if ai := sess.AI(); ai != nil {
		if err := ai.CancelResponse(); err != nil {
			o.logger.Debugw("response cancel failed", "call_sid", sess.CallID, "error", err)
		}
	}
	if tel := sess.Telephony(); tel != nil {
		if err := tel.SendClear(); err == nil {
			sess.Record(internal_event.KindTelephonyClear, internal_event.DirectionOutgoing, nil)
		}
	}
	sess.SetAssistantSpeaking(false)
}

// assistantAudio routes one response audio delta to the recording and the
// caller's ear.
func (o *Orchestrator) assistantAudio(st *callState, delta string) {
	if delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		st.sess.Record(internal_event.KindProtocolWarn, internal_event.DirectionIncoming,
			map[string]interface{}{"detail": "undecodable audio delta"})
		return
	}
	samples := internal_audio.BytesToSamples(pcm)
	st.sess.AddAudioMs(int64(len(samples) / (internal_audio.InternalSampleRate / 1000)))
	if st.recorder != nil {
		st.recorder.IngestAssistant(samples, st.sess.RelativeMs(time.Now()))
	}

	// A cancelled response keeps streaming until the provider acks the
	// cancel; those trailing deltas stay on disk only. The flag comes back
	// on the next response.created.
	if !st.sess.AssistantSpeaking() {
		return
	}
	if st.sess.State() != internal_session.StateActive {
		return
	}
	if tel := st.sess.Telephony(); tel != nil {
		if err := tel.SendMedia(internal_audio.PCM24kToMulaw(samples)); err != nil {
			o.logger.Debugw("media send failed", "call_sid", st.sess.CallID, "error", err)
		}
	}
}
