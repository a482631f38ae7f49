// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channel_observer

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
	"github.com/relayvoice/pkg/commons"
)

type stubCommands struct {
	interrupted []string
	texts       []string
	ended       []string
}

func (s *stubCommands) UpdateSessionConfig(_ context.Context, callID string, patch internal_session.AIConfigPatch) (internal_session.Snapshot, error) {
	return internal_session.Snapshot{CallID: callID}, nil
}

func (s *stubCommands) Interrupt(_ context.Context, callID string) error {
	s.interrupted = append(s.interrupted, callID)
	return nil
}

func (s *stubCommands) TriggerResponse(_ context.Context, callID string) error {
	if callID == "missing" {
		return internal_session.ErrSessionNotFound
	}
	return nil
}

func (s *stubCommands) SendText(_ context.Context, callID, role, text string) error {
	s.texts = append(s.texts, role+":"+text)
	return nil
}

func (s *stubCommands) EndCall(_ context.Context, callID string) error {
	s.ended = append(s.ended, callID)
	return nil
}

func (s *stubCommands) StartOutboundCall(_ context.Context, toNumber string, _ *internal_session.AIConfigPatch) (string, error) {
	return "CA_new", nil
}

type observerEnv struct {
	registry *internal_session.Registry
	commands *stubCommands
	server   *httptest.Server
}

func newObserverEnv(t *testing.T, secret string) *observerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := internal_session.NewRegistry(commons.NewNopLogger())
	commands := &stubCommands{}
	handler := NewHandler(commons.NewNopLogger(), registry, commands, secret)

	engine := gin.New()
	engine.GET("/ios-client", handler.Serve)
	engine.GET("/events/:callId", handler.ServeEvents)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	return &observerEnv{registry: registry, commands: commands, server: server}
}

func (e *observerEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func authenticate(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "auth", "token": "any"}))
	msg := readMessage(t, ws)
	require.Equal(t, MessageAck, msg["type"])
}

func errorCode(msg map[string]interface{}) string {
	if e, ok := msg["error"].(map[string]interface{}); ok {
		code, _ := e["code"].(string)
		return code
	}
	return ""
}

// ==== authentication ====

func TestFirstMessageMustBeAuth(t *testing.T) {
	env := newObserverEnv(t, "")
	ws := env.dial(t, "/ios-client")

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "ping"}))
	msg := readMessage(t, ws)
	assert.Equal(t, MessageError, msg["type"])
	assert.Equal(t, ErrAuthFailed, errorCode(msg))
}

func TestAuthWithValidJWT(t *testing.T) {
	env := newObserverEnv(t, "top-secret")
	ws := env.dial(t, "/ios-client")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "observer-1",
	}).SignedString([]byte("top-secret"))
	require.NoError(t, err)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "auth", "token": token}))
	msg := readMessage(t, ws)
	assert.Equal(t, MessageAck, msg["type"])
}

func TestAuthWithBadJWTFails(t *testing.T) {
	env := newObserverEnv(t, "top-secret")
	ws := env.dial(t, "/ios-client")

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "auth", "token": "garbage"}))
	msg := readMessage(t, ws)
	assert.Equal(t, ErrAuthFailed, errorCode(msg))
}

// ==== subscription and replay ====

func TestSubscribeReplaysRecentEvents(t *testing.T) {
	env := newObserverEnv(t, "")
	sess, _ := env.registry.Create("CA1", internal_session.DirectionInbound, "")
	sess.Record(internal_event.KindCallStarted, internal_event.DirectionIncoming, nil)
	sess.Record(internal_event.KindCallConnected, internal_event.DirectionOutgoing, nil)

	ws := env.dial(t, "/ios-client")
	authenticate(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "subscribe", "callSid": "CA1"}))
	msg := readMessage(t, ws)
	require.Equal(t, MessageAck, msg["type"])

	first := readMessage(t, ws)
	second := readMessage(t, ws)
	assert.Equal(t, MessageEvent, first["type"])
	assert.Equal(t, string(internal_event.KindCallStarted), first["event"].(map[string]interface{})["type"])
	assert.Equal(t, string(internal_event.KindCallConnected), second["event"].(map[string]interface{})["type"])
}

func TestSubscribeBeforeSessionThenLiveEvents(t *testing.T) {
	env := newObserverEnv(t, "")
	ws := env.dial(t, "/ios-client")
	authenticate(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "subscribe", "callSid": "CA2"}))
	msg := readMessage(t, ws)
	require.Equal(t, MessageAck, msg["type"])

	sess, _ := env.registry.Create("CA2", internal_session.DirectionInbound, "")
	sess.Record(internal_event.KindCallStarted, internal_event.DirectionIncoming, nil)

	live := readMessage(t, ws)
	assert.Equal(t, MessageEvent, live["type"])
	assert.Equal(t, "CA2", live["callSid"])
}

func TestSubscribeStreamStaysOrderedWithoutDuplicates(t *testing.T) {
	env := newObserverEnv(t, "")
	sess, _ := env.registry.Create("CA7", internal_session.DirectionInbound, "")

	// hammer the event stream while the subscription is being set up
	const total = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			sess.Record(internal_event.KindTelephonyMark, internal_event.DirectionIncoming,
				map[string]interface{}{"seq": i})
		}
	}()

	ws := env.dial(t, "/ios-client")
	authenticate(t, ws)
	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "subscribe", "callSid": "CA7"}))

	// gaps are fine under backpressure; duplicates and reordering are not
	last := -1
	for {
		msg := readMessage(t, ws)
		if msg["type"] != MessageEvent {
			continue
		}
		data := msg["event"].(map[string]interface{})["data"].(map[string]interface{})
		seq := int(data["seq"].(float64))
		require.Greater(t, seq, last)
		last = seq
		if seq == total-1 {
			break
		}
	}
	<-done
}

func TestEventsRouteIsSubscribeOnly(t *testing.T) {
	env := newObserverEnv(t, "")
	sess, _ := env.registry.Create("CA3", internal_session.DirectionInbound, "")
	sess.Record(internal_event.KindCallStarted, internal_event.DirectionIncoming, nil)

	ws := env.dial(t, "/events/CA3")
	authenticate(t, ws)

	replay := readMessage(t, ws)
	assert.Equal(t, MessageEvent, replay["type"])

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "call.end", "callSid": "CA3"}))
	msg := readMessage(t, ws)
	assert.Equal(t, ErrUnknownType, errorCode(msg))
	assert.Empty(t, env.commands.ended)
}

// ==== commands ====

func TestPingPong(t *testing.T) {
	env := newObserverEnv(t, "")
	ws := env.dial(t, "/ios-client")
	authenticate(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "ping", "id": "42"}))
	msg := readMessage(t, ws)
	assert.Equal(t, MessagePong, msg["type"])
	assert.Equal(t, "42", msg["id"])
}

func TestUnknownCommand(t *testing.T) {
	env := newObserverEnv(t, "")
	ws := env.dial(t, "/ios-client")
	authenticate(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "bogus"}))
	msg := readMessage(t, ws)
	assert.Equal(t, ErrUnknownType, errorCode(msg))
}

func TestSessionNotFoundCode(t *testing.T) {
	env := newObserverEnv(t, "")
	ws := env.dial(t, "/ios-client")
	authenticate(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"type": "call.trigger_response", "callSid": "missing",
	}))
	msg := readMessage(t, ws)
	assert.Equal(t, ErrSessionNotFound, errorCode(msg))
}

func TestSendTextValidation(t *testing.T) {
	env := newObserverEnv(t, "")
	ws := env.dial(t, "/ios-client")
	authenticate(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"type": "call.send_text", "callSid": "CA1",
		"data": map[string]interface{}{},
	}))
	msg := readMessage(t, ws)
	assert.Equal(t, ErrInvalidPayload, errorCode(msg))

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"type": "call.send_text", "callSid": "CA1",
		"data": map[string]interface{}{"text": "say hi"},
	}))
	msg = readMessage(t, ws)
	assert.Equal(t, MessageAck, msg["type"])
	assert.Equal(t, []string{"user:say hi"}, env.commands.texts)
}

func TestGetSessions(t *testing.T) {
	env := newObserverEnv(t, "")
	env.registry.Create("CA1", internal_session.DirectionInbound, "")
	env.registry.Create("CA2", internal_session.DirectionOutbound, "")

	ws := env.dial(t, "/ios-client")
	authenticate(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "get.sessions"}))
	msg := readMessage(t, ws)
	require.Equal(t, MessageAck, msg["type"])

	raw, err := json.Marshal(msg["data"])
	require.NoError(t, err)
	var snaps []internal_session.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snaps))
	assert.Len(t, snaps, 2)
}

func TestStartCallCommand(t *testing.T) {
	env := newObserverEnv(t, "")
	ws := env.dial(t, "/ios-client")
	authenticate(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"type": "call.start",
		"data": map[string]interface{}{"to": "+15550003"},
	}))
	msg := readMessage(t, ws)
	require.Equal(t, MessageAck, msg["type"])
	assert.Equal(t, "CA_new", msg["data"].(map[string]interface{})["callSid"])
}
