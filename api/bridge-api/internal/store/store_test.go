// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relayvoice/pkg/commons"
	"github.com/relayvoice/pkg/connectors"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "bridge.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store := NewStore(commons.NewNopLogger(), connectors.NewGormConnector(db, commons.NewNopLogger()))
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func sampleCall(sessionID, callSid string) *Call {
	return &Call{
		SessionID:  sessionID,
		CallSid:    callSid,
		StreamSid:  "MZ1",
		Direction:  "inbound",
		PeerNumber: "+15550001",
		State:      "twilio-connected",
		StartedAt:  time.Now(),
	}
}

// ==== call lifecycle ====

func TestStartCallIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.StartCall(ctx, sampleCall("S1", "CA1")))
	require.NoError(t, store.StartCall(ctx, sampleCall("S1", "CA1")))

	calls, err := store.RecentCalls(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}

func TestFinishCallWritesEverythingTransactionally(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.StartCall(ctx, sampleCall("S1", "CA1")))

	endedAt := time.Now()
	transcripts := []Transcript{
		{SessionID: "S1", CallSid: "CA1", Speaker: "user", Text: "hello", RelativeTimestampMs: 100},
		{SessionID: "S1", CallSid: "CA1", Speaker: "assistant", Text: "hi", RelativeTimestampMs: 900},
	}
	recording := &Recording{
		RecordingID: "R1", SessionID: "S1", CallSid: "CA1",
		Path: "/tmp/r1.wav", DurationSeconds: 12.5, Bytes: 600044,
	}
	require.NoError(t, store.FinishCall(ctx, "S1", endedAt, 12.5, "caller hangup", transcripts, recording))

	call, err := store.GetCall(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, "ended", call.State)
	assert.Equal(t, "caller hangup", call.EndReason)
	assert.NotNil(t, call.EndedAt)
	assert.Equal(t, 12.5, call.DurationSeconds)

	got, err := store.CallTranscripts(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "user", got[0].Speaker)
}

func TestFinishCallWithoutArtifacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.StartCall(ctx, sampleCall("S2", "CA2")))
	require.NoError(t, store.FinishCall(ctx, "S2", time.Now(), 0.4, "too short", nil, nil))

	call, err := store.GetCall(ctx, "CA2")
	require.NoError(t, err)
	assert.Equal(t, "too short", call.EndReason)
}

func TestGetCallMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetCall(context.Background(), "nope")
	assert.Error(t, err)
}

// ==== events ====

func TestAppendEventAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendEvent(ctx, &Event{
		EventID: "E1", SessionID: "S1", CallSid: "CA1",
		Kind: "call.started", Direction: "incoming",
		Payload: `{"direction":"inbound"}`, Timestamp: time.Now(),
	}))
	require.NoError(t, store.AppendEvent(ctx, &Event{
		EventID: "E2", SessionID: "S1", CallSid: "CA1",
		Kind: "call.disconnected", Direction: "outgoing",
		Timestamp: time.Now().Add(time.Second),
	}))

	events, err := store.CallEvents(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "call.started", events[0].Kind)
	assert.Equal(t, "call.disconnected", events[1].Kind)
}
