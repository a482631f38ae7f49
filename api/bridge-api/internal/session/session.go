// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
)

// State is the bridge lifecycle state of a call session.
type State string

const (
	StateInitializing    State = "initializing"
	StateTwilioConnected State = "twilio-connected"
	StateConnectingAI    State = "connecting-ai"
	StateActive          State = "active"
	StateAIDisconnected  State = "ai-disconnected"
	StateEnded           State = "ended"
	StateError           State = "error"
)

// stateRank orders the happy-path states; transitions never go backwards.
var stateRank = map[State]int{
	StateInitializing:    0,
	StateTwilioConnected: 1,
	StateConnectingAI:    2,
	StateActive:          3,
	StateAIDisconnected:  4,
	StateEnded:           5,
}

// Direction of the call from the bridge's perspective.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// TranscriptFragment is one finalised utterance. Deltas are events, not
// fragments.
type TranscriptFragment struct {
	Speaker             string `json:"speaker"` // user | assistant
	Text                string `json:"text"`
	RelativeTimestampMs int64  `json:"relativeTimestampMs"`
}

// Stats are per-session counters exposed to observers.
type Stats struct {
	EventCount  uint64 `json:"eventCount"`
	AudioMs     int64  `json:"audioMs"`
	Sequence    uint64 `json:"sequence"`
	Transcripts int    `json:"transcripts"`
}

// TelephonyPeer is the outbound surface of the telephony media WebSocket.
type TelephonyPeer interface {
	// SendMedia queues a µ-law 8 kHz chunk for the caller's ear.
	SendMedia(mulaw []byte) error
	// SendMark queues a playback-position marker.
	SendMark(name string) error
	// SendClear discards remaining unplayed audio on the provider side.
	SendClear() error
	// Close closes the media WebSocket with the given close code.
	Close(code int, reason string) error
}

// AIPeer is the outbound surface of the AI realtime WebSocket.
type AIPeer interface {
	SendSessionUpdate(cfg AIConfig) error
	AppendAudio(samples []int16) error
	CommitInput() error
	ClearInput() error
	CreateResponse() error
	CancelResponse() error
	CreateTextItem(role, text string) error
	Close() error
}

// Session is the per-call record owned by the Registry. Peers hold the
// callId (a value) and resolve the session through the registry; they never
// share ownership.
type Session struct {
	ID         string
	CallID     string
	Direction  Direction
	PeerNumber string
	CreatedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu                sync.Mutex
	state             State
	config            AIConfig
	telephonyStreamID string
	telephony         TelephonyPeer
	ai                AIPeer
	transcripts       []TranscriptFragment
	stats             Stats
	assistantSpeaking bool
	ended             bool

	log *internal_event.Log

	// notify is installed by the registry: fan-out to subscribers and the
	// persistence sink. Called with the session record mutex held so
	// observers see events in append order.
	notify func(*internal_event.Record)
}

func newSession(callID string, direction Direction, peerNumber string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:         uuid.New().String(),
		CallID:     callID,
		Direction:  direction,
		PeerNumber: peerNumber,
		CreatedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateInitializing,
		config:     DefaultAIConfig(),
		log:        internal_event.NewLog(),
	}
}

// Context is cancelled when the session is destroyed; every per-session
// task must observe it and exit promptly.
func (s *Session) Context() context.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition advances the lifecycle state. Happy-path states only move
// forward; error is reachable from any non-terminal state; ended and error
// are terminal.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state
	if from == StateEnded || from == StateError {
		return fmt.Errorf("session %s is terminal (%s)", s.CallID, from)
	}
	if to == StateError || to == StateEnded {
		s.state = to
		return nil
	}
	if stateRank[to] < stateRank[from] {
		return fmt.Errorf("illegal state transition %s -> %s", from, to)
	}
	s.state = to
	return nil
}

// SetTelephonyStreamID binds the provider stream id. Set exactly once on
// the start frame; a second start is an invariant violation.
func (s *Session) SetTelephonyStreamID(streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.telephonyStreamID != "" {
		return fmt.Errorf("duplicate start: stream id already bound to %s", s.telephonyStreamID)
	}
	s.telephonyStreamID = streamID
	return nil
}

// TelephonyStreamID returns the bound stream id, empty before start.
func (s *Session) TelephonyStreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephonyStreamID
}

// AttachTelephony installs the telephony peer handle.
func (s *Session) AttachTelephony(p TelephonyPeer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telephony = p
}

// AttachAI installs the AI peer handle.
func (s *Session) AttachAI(p AIPeer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ai = p
}

// Telephony returns the telephony peer, nil before attach.
func (s *Session) Telephony() TelephonyPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephony
}

// AI returns the AI peer, nil before attach or after disconnect.
func (s *Session) AI() AIPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ai
}

// DetachAI drops the AI peer handle (on unexpected close).
func (s *Session) DetachAI() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ai = nil
}

// Config returns the current configuration snapshot.
func (s *Session) Config() AIConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// ApplyConfig merges a patch into the session config and returns the new
// snapshot.
func (s *Session) ApplyConfig(patch AIConfigPatch) AIConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Apply(patch)
	return s.config
}

// SetConfig replaces the whole configuration snapshot.
func (s *Session) SetConfig(cfg AIConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}

// AssistantSpeaking reports whether an assistant response is currently
// emitting audio.
func (s *Session) AssistantSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistantSpeaking
}

// SetAssistantSpeaking flips the assistant-speaking flag.
func (s *Session) SetAssistantSpeaking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistantSpeaking = v
}

// Record appends a typed event to the session log and fans it out to
// subscribers in append order.
func (s *Session) Record(kind internal_event.Kind, direction internal_event.Direction, payload map[string]interface{}) *internal_event.Record {
	rec := internal_event.New(s.CallID, kind, direction, payload)

	// notify runs under the session mutex so concurrent producers fan out
	// in exactly the append order. Subscriber delivery is a non-blocking
	// queue push and must never call back into the session.
	s.mu.Lock()
	s.log.Append(rec)
	s.stats.EventCount++
	s.stats.Sequence++
	if s.notify != nil {
		s.notify(rec)
	}
	s.mu.Unlock()
	return rec
}

// RecentEvents returns up to n most recent events, oldest first.
func (s *Session) RecentEvents(n int) []*internal_event.Record {
	return s.log.Recent(n)
}

// AppendTranscript stores a finalised utterance in arrival order.
func (s *Session) AppendTranscript(speaker, text string, relativeTs int64) TranscriptFragment {
	frag := TranscriptFragment{Speaker: speaker, Text: text, RelativeTimestampMs: relativeTs}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, frag)
	s.stats.Transcripts = len(s.transcripts)
	return frag
}

// Transcripts returns a copy of the accumulated final fragments.
func (s *Session) Transcripts() []TranscriptFragment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptFragment, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

// AddAudioMs accumulates processed audio duration for the stats snapshot.
func (s *Session) AddAudioMs(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.AudioMs += ms
}

// RelativeMs converts an absolute time to milliseconds since session start.
func (s *Session) RelativeMs(t time.Time) int64 {
	return t.Sub(s.CreatedAt).Milliseconds()
}

// Snapshot is the observer-facing view of a session.
type Snapshot struct {
	ID                string    `json:"id"`
	CallID            string    `json:"callSid"`
	Direction         Direction `json:"direction"`
	PeerNumber        string    `json:"peerNumber,omitempty"`
	State             State     `json:"state"`
	CreatedAt         time.Time `json:"createdAt"`
	TelephonyStreamID string    `json:"streamSid,omitempty"`
	Config            AIConfig  `json:"config"`
	Stats             Stats     `json:"stats"`
}

// Snapshot captures the current session view for observer queries.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                s.ID,
		CallID:            s.CallID,
		Direction:         s.Direction,
		PeerNumber:        s.PeerNumber,
		State:             s.state,
		CreatedAt:         s.CreatedAt,
		TelephonyStreamID: s.telephonyStreamID,
		Config:            s.config,
		Stats:             s.stats,
	}
}

// markEnded returns false if the session already emitted its terminal
// event. Exactly one terminal event per session.
func (s *Session) markEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}
