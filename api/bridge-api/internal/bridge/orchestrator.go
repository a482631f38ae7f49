// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_bridge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_audio "github.com/relayvoice/api/bridge-api/internal/audio"
	internal_recorder "github.com/relayvoice/api/bridge-api/internal/audio/recorder"
	channel_openai "github.com/relayvoice/api/bridge-api/internal/channel/openai"
	channel_telephony "github.com/relayvoice/api/bridge-api/internal/channel/telephony"
	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
	internal_store "github.com/relayvoice/api/bridge-api/internal/store"
	internal_twilio_telephony "github.com/relayvoice/api/bridge-api/internal/telephony/twilio"
	"github.com/relayvoice/pkg/commons"
	"github.com/relayvoice/pkg/utils"
)

// Options wires the orchestrator's collaborators. Caller and Store are
// optional; a nil Caller disables outbound dialing and a nil Store disables
// persistence.
type Options struct {
	OpenAI        channel_openai.Options
	RecordingRoot string
	Caller        internal_twilio_telephony.Caller
	Store         internal_store.Store
}

// Orchestrator couples the three channels of a call: the telephony media
// stream, the AI realtime connection and the observer control plane. One
// instance serves the whole process; per-call state hangs off the session
// registry.
type Orchestrator struct {
	logger   commons.Logger
	registry *internal_session.Registry
	opts     Options

	mu    sync.Mutex
	calls map[string]*callState
}

// callState is the orchestrator-private per-call machinery.
type callState struct {
	sess        *internal_session.Session
	framebuffer *internal_audio.FrameBuffer
	recorder    *internal_recorder.Recorder

	markMu  sync.Mutex
	markSeq int
}

// NewOrchestrator creates the bridge orchestrator.
func NewOrchestrator(logger commons.Logger, registry *internal_session.Registry, opts Options) *Orchestrator {
	return &Orchestrator{
		logger:   logger,
		registry: registry,
		opts:     opts,
		calls:    make(map[string]*callState),
	}
}

var _ channel_telephony.Bridge = (*Orchestrator)(nil)
var _ channel_openai.EventHandler = (*Orchestrator)(nil)

func (o *Orchestrator) state(callID string) *callState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[callID]
}

// ==== telephony channel ====

// TelephonyConnected fires before the call identity is known; there is
// nothing to bind yet.
func (o *Orchestrator) TelephonyConnected(peer *channel_telephony.Conn) {
	o.logger.Debug("media stream connected, awaiting start")
}

// TelephonyStart binds the media stream to a session and kicks off the AI
// leg. The session may already exist for outbound calls placed over REST.
func (o *Orchestrator) TelephonyStart(peer *channel_telephony.Conn, start channel_telephony.StartFrame) error {
	direction := internal_session.DirectionInbound
	peerNumber := start.CustomParameters["from"]
	if start.CustomParameters["direction"] == string(internal_session.DirectionOutbound) {
		direction = internal_session.DirectionOutbound
		peerNumber = start.CustomParameters["to"]
	}

	sess, created := o.registry.Create(start.CallSid, direction, peerNumber)
	if err := sess.SetTelephonyStreamID(start.StreamSid); err != nil {
		sess.Record(internal_event.KindProtocolWarn, internal_event.DirectionIncoming,
			map[string]interface{}{"detail": err.Error()})
		return err
	}
	sess.AttachTelephony(peer)
	peer.SetDropHandler(func(dropped int) {
		sess.Record(internal_event.KindTelephonyBackpressure, internal_event.DirectionOutgoing,
			map[string]interface{}{"dropped": dropped})
	})

	if err := sess.Transition(internal_session.StateTwilioConnected); err != nil {
		return err
	}

	recorder, err := internal_recorder.NewRecorder(o.logger, o.opts.RecordingRoot, start.CallSid)
	if err != nil {
		// The call proceeds without a recording artifact.
		o.logger.Errorw("recorder unavailable", "call_sid", start.CallSid, "error", err)
	}
	st := &callState{
		sess:        sess,
		framebuffer: internal_audio.NewFrameBuffer(),
		recorder:    recorder,
	}
	o.mu.Lock()
	o.calls[start.CallSid] = st
	o.mu.Unlock()

	if created {
		sess.Record(internal_event.KindCallStarted, internal_event.DirectionIncoming,
			map[string]interface{}{
				"direction":  string(direction),
				"peerNumber": peerNumber,
				"streamSid":  start.StreamSid,
			})
	}
	sess.Record(internal_event.KindTelephonyConnected, internal_event.DirectionIncoming,
		map[string]interface{}{"streamSid": start.StreamSid, "tracks": start.Tracks})

	o.persistStart(sess)

	if err := sess.Transition(internal_session.StateConnectingAI); err != nil {
		return err
	}
	utils.Go(sess.Context(), func() { o.connectAI(st) })
	utils.Go(sess.Context(), func() { o.runTicker(st) })
	return nil
}

// TelephonyMedia feeds one caller audio chunk into the recording and, when
// the bridge is active, the AI input buffer.
func (o *Orchestrator) TelephonyMedia(callID string, mulaw []byte, _ int64) {
	st := o.state(callID)
	if st == nil {
		return
	}

	samples := internal_audio.MulawToPCM24k(mulaw)
	st.sess.AddAudioMs(int64(len(samples) / (internal_audio.InternalSampleRate / 1000)))
	if st.recorder != nil {
		st.recorder.IngestUser(samples, st.sess.RelativeMs(time.Now()))
	}

	if st.sess.State() != internal_session.StateActive {
		return
	}
	block := st.framebuffer.Append(samples)
	if block == nil {
		return
	}
	if ai := st.sess.AI(); ai != nil {
		if err := ai.AppendAudio(block); err != nil {
			o.logger.Debugw("ai audio append failed", "call_sid", callID, "error", err)
		}
	}
}

// TelephonyMark records the provider's playback-position echo.
func (o *Orchestrator) TelephonyMark(callID, name string) {
	if sess, ok := o.registry.Get(callID); ok {
		sess.Record(internal_event.KindTelephonyMark, internal_event.DirectionIncoming,
			map[string]interface{}{"name": name})
	}
}

// TelephonyStop tears the call down on the provider's stop frame.
func (o *Orchestrator) TelephonyStop(callID string) {
	o.teardown(callID, "caller hangup", websocket.CloseNormalClosure)
}

// TelephonyWarn records an out-of-protocol frame against the session when
// one exists.
func (o *Orchestrator) TelephonyWarn(callID, detail string) {
	if sess, ok := o.registry.Get(callID); ok {
		sess.Record(internal_event.KindProtocolWarn, internal_event.DirectionIncoming,
			map[string]interface{}{"detail": detail})
		return
	}
	o.logger.Warnw("media stream protocol warning", "call_sid", callID, "detail", detail)
}

// TelephonyClosed tears the call down when the socket drops without a stop
// frame. Harmless after a regular teardown.
func (o *Orchestrator) TelephonyClosed(callID string, err error) {
	if callID == "" {
		return
	}
	o.teardown(callID, "media stream closed", websocket.CloseNormalClosure)
}

// ==== ai leg ====

// connectAI dials the realtime endpoint for the session. Runs on its own
// goroutine; failure ends the call.
func (o *Orchestrator) connectAI(st *callState) {
	sess := st.sess
	client, err := channel_openai.Dial(sess.Context(), o.logger, o.opts.OpenAI, sess.CallID, o)
	if err != nil {
		o.logger.Errorw("ai connect failed", "call_sid", sess.CallID, "error", err)
		sess.Record(internal_event.KindCallError, internal_event.DirectionOutgoing,
			map[string]interface{}{"detail": "ai connect failed", "error": err.Error()})
		_ = sess.Transition(internal_session.StateError)
		o.teardown(sess.CallID, "ai connect failed", websocket.CloseInternalServerErr)
		return
	}
	sess.AttachAI(client)
	// Configuration goes out before any audio or response traffic so the
	// first turn runs under the session's settings, not provider defaults.
	if err := client.SendSessionUpdate(sess.Config()); err != nil {
		o.logger.Errorw("session config push failed", "call_sid", sess.CallID, "error", err)
	}
}

// runTicker drives the periodic per-call work: stale frame flushes toward
// the AI leg and recorder mix cycles.
func (o *Orchestrator) runTicker(st *callState) {
	ticker := time.NewTicker(internal_audio.FlushTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-st.sess.Context().Done():
			return
		case now := <-ticker.C:
			if block := st.framebuffer.FlushStale(now); block != nil && st.sess.State() == internal_session.StateActive {
				if ai := st.sess.AI(); ai != nil {
					_ = ai.AppendAudio(block)
				}
			}
			if st.recorder != nil {
				st.recorder.Tick(now)
			}
		}
	}
}

// nextMark issues a unique playback marker name for the call.
func (st *callState) nextMark() string {
	st.markMu.Lock()
	defer st.markMu.Unlock()
	st.markSeq++
	return "response-" + strconv.Itoa(st.markSeq)
}

// ==== teardown ====

// teardown finishes a call exactly once: final recorder mix, durable
// close-out, then session destruction with its terminal event.
func (o *Orchestrator) teardown(callID, reason string, closeCode int) {
	o.mu.Lock()
	st, ok := o.calls[callID]
	if ok {
		delete(o.calls, callID)
	}
	o.mu.Unlock()

	sess, live := o.registry.Get(callID)
	if !ok && !live {
		return
	}

	// Whatever the frame buffer still holds goes to the AI leg before the
	// peers close, so trailing caller speech is not lost.
	if st != nil {
		if tail := st.framebuffer.Drain(); tail != nil && st.sess.State() == internal_session.StateActive {
			if ai := st.sess.AI(); ai != nil {
				_ = ai.AppendAudio(tail)
			}
		}
	}

	var result *internal_recorder.Result
	if st != nil && st.recorder != nil {
		var err error
		result, err = st.recorder.Stop()
		if err != nil {
			o.logger.Errorw("recorder stop failed", "call_sid", callID, "error", err)
		}
	}

	if live {
		_ = sess.Transition(internal_session.StateEnded)
		o.persistFinish(sess, reason, result)
	}

	o.registry.Destroy(callID, internal_event.KindCallDisconnected,
		map[string]interface{}{"reason": reason}, closeCode)
}

// ==== persistence ====

func (o *Orchestrator) persistStart(sess *internal_session.Session) {
	if o.opts.Store == nil {
		return
	}
	row := &internal_store.Call{
		SessionID:  sess.ID,
		CallSid:    sess.CallID,
		StreamSid:  sess.TelephonyStreamID(),
		Direction:  string(sess.Direction),
		PeerNumber: sess.PeerNumber,
		State:      string(internal_session.StateTwilioConnected),
		StartedAt:  sess.CreatedAt,
	}
	utils.Go(context.Background(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.opts.Store.StartCall(ctx, row); err != nil {
			o.logger.Errorw("call persistence failed", "call_sid", sess.CallID, "error", err)
			sess.Record(internal_event.KindPersistenceError, internal_event.DirectionOutgoing,
				map[string]interface{}{"stage": "start", "error": err.Error()})
		}
	})
}

func (o *Orchestrator) persistFinish(sess *internal_session.Session, reason string, rec *internal_recorder.Result) {
	if o.opts.Store == nil {
		return
	}
	endedAt := time.Now()
	duration := endedAt.Sub(sess.CreatedAt).Seconds()

	var transcripts []internal_store.Transcript
	for _, frag := range sess.Transcripts() {
		transcripts = append(transcripts, internal_store.Transcript{
			SessionID:           sess.ID,
			CallSid:             sess.CallID,
			Speaker:             frag.Speaker,
			Text:                frag.Text,
			RelativeTimestampMs: frag.RelativeTimestampMs,
		})
	}
	var recording *internal_store.Recording
	if rec != nil && !rec.Discarded {
		recording = &internal_store.Recording{
			RecordingID:     rec.RecordingID,
			SessionID:       sess.ID,
			CallSid:         sess.CallID,
			Path:            rec.Path,
			DurationSeconds: float64(rec.DurationSeconds),
			Bytes:           rec.Bytes,
		}
	}

	utils.Go(context.Background(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.opts.Store.FinishCall(ctx, sess.ID, endedAt, duration, reason, transcripts, recording); err != nil {
			o.logger.Errorw("call close-out persistence failed", "call_sid", sess.CallID, "error", err)
		}
	})
}
