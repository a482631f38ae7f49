// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_store

import (
	"context"
	"time"

	internal_event "github.com/relayvoice/api/bridge-api/internal/event"
	"github.com/relayvoice/pkg/commons"
	"github.com/relayvoice/pkg/utils"
)

const sinkWriteTimeout = 5 * time.Second

// Sink adapts the store to the registry's event sink. Writes happen off
// the recording goroutine; failures are logged, never surfaced to the call
// path.
type Sink struct {
	logger commons.Logger
	store  Store
}

// NewSink creates the durable event sink.
func NewSink(logger commons.Logger, store Store) *Sink {
	return &Sink{logger: logger, store: store}
}

// PersistEvent writes one allowlisted event asynchronously.
func (s *Sink) PersistEvent(sessionID string, rec *internal_event.Record) {
	row := &Event{
		EventID:   rec.ID,
		SessionID: sessionID,
		CallSid:   rec.CallID,
		Kind:      string(rec.Kind),
		Direction: string(rec.Direction),
		Payload:   utils.ToJson(rec.Payload),
		Timestamp: rec.Timestamp,
	}
	utils.Go(context.Background(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		defer cancel()
		if err := s.store.AppendEvent(ctx, row); err != nil {
			s.logger.Errorw("event persistence failed",
				"call_sid", rec.CallID, "kind", string(rec.Kind), "error", err)
		}
	})
}
