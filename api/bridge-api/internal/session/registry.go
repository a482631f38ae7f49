// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
	"github.com/relayvoice/pkg/commons"
)

// DestroyGrace is the window for flushing final events before peers are
// force-closed.
const DestroyGrace = 2 * time.Second

// Subscriber receives the event stream of one or more call ids. Deliver
// must not block: implementations queue and drop rather than stall the
// recording path.
type Subscriber interface {
	Deliver(rec *internal_event.Record)
}

// EventSink persists a subset of events durably. Implementations must not
// block; failures are logged, never propagated.
type EventSink interface {
	PersistEvent(sessionID string, rec *internal_event.Record)
}

// Registry is the process-wide owner of all live call sessions, indexed by
// callId and by internal session id, with a per-call subscriber set.
// Subscriptions are independent of session existence so observers can
// subscribe before the telephony peer connects.
type Registry struct {
	logger commons.Logger

	mu       sync.RWMutex
	byCallID map[string]*Session
	byID     map[string]*Session
	subs     map[string]map[Subscriber]struct{}

	sink         EventSink
	persistKinds map[internal_event.Kind]bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger commons.Logger) *Registry {
	return &Registry{
		logger:   logger,
		byCallID: make(map[string]*Session),
		byID:     make(map[string]*Session),
		subs:     make(map[string]map[Subscriber]struct{}),
	}
}

// SetEventSink installs the durable sink and the allowlist of kinds it
// receives. Call before any session is created.
func (r *Registry) SetEventSink(sink EventSink, kinds ...internal_event.Kind) {
	r.sink = sink
	r.persistKinds = make(map[internal_event.Kind]bool, len(kinds))
	for _, k := range kinds {
		r.persistKinds[k] = true
	}
}

// Create returns the session for callID, creating it when absent. The
// second return is false when an existing session was reused.
func (r *Registry) Create(callID string, direction Direction, peerNumber string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byCallID[callID]; ok {
		return existing, false
	}

	sess := newSession(callID, direction, peerNumber)
	sess.notify = func(rec *internal_event.Record) {
		r.fanout(sess, rec)
	}
	r.byCallID[callID] = sess
	r.byID[sess.ID] = sess
	r.logger.Infow("session created",
		"call_sid", callID, "session_id", sess.ID, "direction", string(direction))
	return sess, true
}

// Get looks up a live session by callId.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byCallID[callID]
	return sess, ok
}

// GetByID looks up a live session by internal id.
func (r *Registry) GetByID(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byID[id]
	return sess, ok
}

// Sessions returns the live sessions in no particular order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byCallID))
	for _, s := range r.byCallID {
		out = append(out, s)
	}
	return out
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCallID)
}

// Subscribe attaches sub to callID's event stream. Valid before the
// session exists.
func (r *Registry) Subscribe(callID string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[callID]
	if !ok {
		set = make(map[Subscriber]struct{})
		r.subs[callID] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe detaches sub from callID's event stream.
func (r *Registry) Unsubscribe(callID string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.subs[callID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.subs, callID)
		}
	}
}

// UnsubscribeAll detaches sub from every call it follows. Used when an
// observer connection closes.
func (r *Registry) UnsubscribeAll(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for callID, set := range r.subs {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.subs, callID)
		}
	}
}

// SubscriberCount reports how many observers follow callID.
func (r *Registry) SubscriberCount(callID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[callID])
}

// fanout delivers rec to every subscriber of the session's callId and to
// the durable sink for allowlisted kinds. Runs with the session record
// mutex held; everything here must be non-blocking.
func (r *Registry) fanout(sess *Session, rec *internal_event.Record) {
	r.mu.RLock()
	set := r.subs[sess.CallID]
	targets := make([]Subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	sink := r.sink
	persist := sink != nil && r.persistKinds[rec.Kind]
	r.mu.RUnlock()

	for _, sub := range targets {
		sub.Deliver(rec)
	}
	if persist {
		sink.PersistEvent(sess.ID, rec)
	}
}

// Destroy tears a session down: exactly one terminal event to subscribers,
// best-effort close of both peers within the grace period, then immediate
// removal. Subsequent lookups return absent.
func (r *Registry) Destroy(callID string, kind internal_event.Kind, payload map[string]interface{}, closeCode int) {
	r.mu.Lock()
	sess, ok := r.byCallID[callID]
	if ok {
		delete(r.byCallID, callID)
		delete(r.byID, sess.ID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if sess.markEnded() {
		sess.Record(kind, internal_event.DirectionOutgoing, payload)
	}

	telephony := sess.Telephony()
	ai := sess.AI()

	var group errgroup.Group
	if ai != nil {
		group.Go(func() error { return ai.Close() })
	}
	if telephony != nil {
		group.Go(func() error { return telephony.Close(closeCode, string(kind)) })
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := group.Wait(); err != nil {
			r.logger.Debugf("peer close: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(DestroyGrace):
		r.logger.Warnw("session destroy exceeded grace period", "call_sid", callID)
	}

	sess.cancel()
	r.logger.Infow("session destroyed", "call_sid", callID, "reason", string(kind))
}
