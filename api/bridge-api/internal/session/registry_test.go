// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
	"github.com/relayvoice/pkg/commons"
)

type captureSubscriber struct {
	mu   sync.Mutex
	recs []*internal_event.Record
}

func (c *captureSubscriber) Deliver(rec *internal_event.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *captureSubscriber) kinds() []internal_event.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]internal_event.Kind, len(c.recs))
	for i, r := range c.recs {
		out[i] = r.Kind
	}
	return out
}

type stubTelephony struct {
	mu     sync.Mutex
	closed bool
}

func (s *stubTelephony) SendMedia([]byte) error { return nil }
func (s *stubTelephony) SendMark(string) error  { return nil }
func (s *stubTelephony) SendClear() error       { return nil }
func (s *stubTelephony) Close(int, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
func (s *stubTelephony) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type captureSink struct {
	mu   sync.Mutex
	recs []*internal_event.Record
}

func (c *captureSink) PersistEvent(_ string, rec *internal_event.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

// ==== create / lookup ====

func TestCreateIsIdempotent(t *testing.T) {
	r := NewRegistry(commons.NewNopLogger())

	first, created := r.Create("CA1", DirectionInbound, "+1555")
	assert.True(t, created)
	second, created := r.Create("CA1", DirectionOutbound, "other")
	assert.False(t, created)
	assert.Same(t, first, second)
	// original identity wins
	assert.Equal(t, DirectionInbound, second.Direction)

	byID, ok := r.GetByID(first.ID)
	require.True(t, ok)
	assert.Same(t, first, byID)
	assert.Equal(t, 1, r.Count())
}

func TestGetMissing(t *testing.T) {
	r := NewRegistry(commons.NewNopLogger())
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

// ==== subscriptions ====

func TestSubscribeBeforeSessionExists(t *testing.T) {
	r := NewRegistry(commons.NewNopLogger())
	sub := &captureSubscriber{}
	r.Subscribe("CA1", sub)

	sess, _ := r.Create("CA1", DirectionInbound, "")
	sess.Record(internal_event.KindCallStarted, internal_event.DirectionIncoming, nil)

	kinds := sub.kinds()
	require.Len(t, kinds, 1)
	assert.Equal(t, internal_event.KindCallStarted, kinds[0])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRegistry(commons.NewNopLogger())
	sub := &captureSubscriber{}
	sess, _ := r.Create("CA1", DirectionInbound, "")

	r.Subscribe("CA1", sub)
	sess.Record(internal_event.KindCallStarted, internal_event.DirectionIncoming, nil)
	r.Unsubscribe("CA1", sub)
	sess.Record(internal_event.KindCallConnected, internal_event.DirectionOutgoing, nil)

	assert.Len(t, sub.kinds(), 1)
	assert.Equal(t, 0, r.SubscriberCount("CA1"))
}

func TestUnsubscribeAll(t *testing.T) {
	r := NewRegistry(commons.NewNopLogger())
	sub := &captureSubscriber{}
	r.Subscribe("CA1", sub)
	r.Subscribe("CA2", sub)

	r.UnsubscribeAll(sub)
	assert.Equal(t, 0, r.SubscriberCount("CA1"))
	assert.Equal(t, 0, r.SubscriberCount("CA2"))
}

// ==== persistence sink ====

func TestSinkReceivesOnlyAllowlistedKinds(t *testing.T) {
	r := NewRegistry(commons.NewNopLogger())
	sink := &captureSink{}
	r.SetEventSink(sink, internal_event.KindCallStarted)

	sess, _ := r.Create("CA1", DirectionInbound, "")
	sess.Record(internal_event.KindCallStarted, internal_event.DirectionIncoming, nil)
	sess.Record(internal_event.KindTelephonyMark, internal_event.DirectionIncoming, nil)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.recs, 1)
	assert.Equal(t, internal_event.KindCallStarted, sink.recs[0].Kind)
}

// ==== destroy ====

func TestDestroyEmitsOneTerminalEventAndRemoves(t *testing.T) {
	r := NewRegistry(commons.NewNopLogger())
	sub := &captureSubscriber{}
	r.Subscribe("CA1", sub)

	sess, _ := r.Create("CA1", DirectionInbound, "")
	tel := &stubTelephony{}
	sess.AttachTelephony(tel)

	r.Destroy("CA1", internal_event.KindCallDisconnected,
		map[string]interface{}{"reason": "test"}, 1000)
	// second destroy is a no-op
	r.Destroy("CA1", internal_event.KindCallDisconnected, nil, 1000)

	_, ok := r.Get("CA1")
	assert.False(t, ok)
	assert.True(t, tel.isClosed())

	var terminal int
	for _, k := range sub.kinds() {
		if k == internal_event.KindCallDisconnected {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestDestroyCancelsSessionContext(t *testing.T) {
	r := NewRegistry(commons.NewNopLogger())
	sess, _ := r.Create("CA1", DirectionInbound, "")

	r.Destroy("CA1", internal_event.KindCallDisconnected, nil, 1000)

	select {
	case <-sess.Context().Done():
	default:
		t.Fatal("session context still live after destroy")
	}
}
