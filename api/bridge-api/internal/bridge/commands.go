// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_bridge

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
	internal_session "github.com/relayvoice/api/bridge-api/internal/session"
)

// Observer control plane. Each command records an observer.command event on
// the session it touches so the audit trail lives with the call.

// UpdateSessionConfig merges the patch, pushes the result to the AI peer
// and returns the new snapshot.
func (o *Orchestrator) UpdateSessionConfig(ctx context.Context, callID string, patch internal_session.AIConfigPatch) (internal_session.Snapshot, error) {
	sess, ok := o.registry.Get(callID)
	if !ok {
		return internal_session.Snapshot{}, internal_session.ErrSessionNotFound
	}
	cfg := sess.ApplyConfig(patch)
	if ai := sess.AI(); ai != nil {
		if err := ai.SendSessionUpdate(cfg); err != nil {
			return internal_session.Snapshot{}, fmt.Errorf("session update push: %w", err)
		}
	}
	sess.Record(internal_event.KindObserverCommand, internal_event.DirectionIncoming,
		map[string]interface{}{"command": "session.update"})
	return sess.Snapshot(), nil
}

// Interrupt force-cancels the in-flight assistant response.
func (o *Orchestrator) Interrupt(ctx context.Context, callID string) error {
	sess, ok := o.registry.Get(callID)
	if !ok {
		return internal_session.ErrSessionNotFound
	}
	ai := sess.AI()
	if ai == nil {
		return internal_session.ErrNoAIPeer
	}
	if err := ai.CancelResponse(); err != nil {
		return fmt.Errorf("response cancel: %w", err)
	}
	if tel := sess.Telephony(); tel != nil {
		if err := tel.SendClear(); err == nil {
			sess.Record(internal_event.KindTelephonyClear, internal_event.DirectionOutgoing, nil)
		}
	}
	sess.SetAssistantSpeaking(false)
	sess.Record(internal_event.KindObserverCommand, internal_event.DirectionIncoming,
		map[string]interface{}{"command": "call.interrupt"})
	return nil
}

// TriggerResponse asks the model to answer now, regardless of turn
// detection. The push-to-talk path in detection mode none.
func (o *Orchestrator) TriggerResponse(ctx context.Context, callID string) error {
	sess, ok := o.registry.Get(callID)
	if !ok {
		return internal_session.ErrSessionNotFound
	}
	ai := sess.AI()
	if ai == nil {
		return internal_session.ErrNoAIPeer
	}
	if td := sess.Config().TurnDetection; td == nil || td.Mode == internal_session.TurnDetectionNone {
		if err := ai.CommitInput(); err != nil {
			return fmt.Errorf("input commit: %w", err)
		}
	}
	if err := ai.CreateResponse(); err != nil {
		return fmt.Errorf("response create: %w", err)
	}
	sess.Record(internal_event.KindObserverCommand, internal_event.DirectionIncoming,
		map[string]interface{}{"command": "call.trigger_response"})
	return nil
}

// SendText injects a text message into the conversation; user-role text
// also triggers a response.
func (o *Orchestrator) SendText(ctx context.Context, callID, role, text string) error {
	sess, ok := o.registry.Get(callID)
	if !ok {
		return internal_session.ErrSessionNotFound
	}
	ai := sess.AI()
	if ai == nil {
		return internal_session.ErrNoAIPeer
	}
	if err := ai.CreateTextItem(role, text); err != nil {
		return fmt.Errorf("text item create: %w", err)
	}
	if role == "user" {
		if err := ai.CreateResponse(); err != nil {
			return fmt.Errorf("response create: %w", err)
		}
	}
	sess.Record(internal_event.KindTextSent, internal_event.DirectionIncoming,
		map[string]interface{}{"role": role, "text": text})
	return nil
}

// EndCall tears the session down on observer request and completes the
// provider call when call control is configured.
func (o *Orchestrator) EndCall(ctx context.Context, callID string) error {
	if _, ok := o.registry.Get(callID); !ok {
		return internal_session.ErrSessionNotFound
	}
	if o.opts.Caller != nil {
		if err := o.opts.Caller.EndCall(callID); err != nil {
			o.logger.Warnw("provider hangup failed", "call_sid", callID, "error", err)
		}
	}
	o.teardown(callID, "observer request", websocket.CloseNormalClosure)
	return nil
}

// StartOutboundCall places a provider call toward toNumber. The media
// stream arrives later over the regular start flow; the session is created
// up front so its configuration is in place before the first frame.
func (o *Orchestrator) StartOutboundCall(ctx context.Context, toNumber string, patch *internal_session.AIConfigPatch) (string, error) {
	if o.opts.Caller == nil {
		return "", fmt.Errorf("outbound calling not configured")
	}
	callID, err := o.opts.Caller.CreateCall(toNumber)
	if err != nil {
		return "", err
	}
	sess, _ := o.registry.Create(callID, internal_session.DirectionOutbound, toNumber)
	if patch != nil {
		sess.ApplyConfig(*patch)
	}
	sess.Record(internal_event.KindCallStarted, internal_event.DirectionOutgoing,
		map[string]interface{}{"direction": "outbound", "to": toNumber})
	return callID, nil
}
