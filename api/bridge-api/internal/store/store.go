// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/relayvoice/pkg/commons"
	"github.com/relayvoice/pkg/connectors"
)

// Store is the durable side of the bridge: call rows on start and end,
// allowlisted events as they happen, transcripts and recording metadata at
// teardown.
type Store interface {
	Migrate(ctx context.Context) error

	// StartCall inserts the call row. Idempotent on session id.
	StartCall(ctx context.Context, call *Call) error
	// FinishCall closes the call row and writes transcripts and recording
	// metadata in one transaction.
	FinishCall(ctx context.Context, sessionID string, endedAt time.Time, durationSeconds float64, reason string, transcripts []Transcript, recording *Recording) error
	// AppendEvent persists one allowlisted event. Idempotent on event id.
	AppendEvent(ctx context.Context, ev *Event) error

	GetCall(ctx context.Context, callSid string) (*Call, error)
	RecentCalls(ctx context.Context, limit int) ([]Call, error)
	CallEvents(ctx context.Context, sessionID string) ([]Event, error)
	CallTranscripts(ctx context.Context, sessionID string) ([]Transcript, error)
}

type gormStore struct {
	logger    commons.Logger
	connector connectors.PostgresConnector
}

// NewStore creates the gorm-backed store.
func NewStore(logger commons.Logger, connector connectors.PostgresConnector) Store {
	return &gormStore{logger: logger, connector: connector}
}

func (s *gormStore) Migrate(ctx context.Context) error {
	return s.connector.DB(ctx).AutoMigrate(&Call{}, &Event{}, &Transcript{}, &Recording{})
}

func (s *gormStore) StartCall(ctx context.Context, call *Call) error {
	return s.connector.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Call
		err := tx.Where("session_id = ?", call.SessionID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(call).Error
	})
}

func (s *gormStore) FinishCall(ctx context.Context, sessionID string, endedAt time.Time, durationSeconds float64, reason string, transcripts []Transcript, recording *Recording) error {
	return s.connector.DB(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"ended_at":         endedAt,
			"duration_seconds": durationSeconds,
			"end_reason":       reason,
			"state":            "ended",
		}
		if err := tx.Model(&Call{}).Where("session_id = ?", sessionID).Updates(updates).Error; err != nil {
			return err
		}
		if len(transcripts) > 0 {
			if err := tx.Create(&transcripts).Error; err != nil {
				return err
			}
		}
		if recording != nil {
			if err := tx.Create(recording).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *gormStore) AppendEvent(ctx context.Context, ev *Event) error {
	err := s.connector.DB(ctx).Create(ev).Error
	if err != nil && isDuplicate(err) {
		return nil
	}
	return err
}

func (s *gormStore) GetCall(ctx context.Context, callSid string) (*Call, error) {
	var call Call
	err := s.connector.DB(ctx).
		Where("call_sid = ?", callSid).
		Order("id DESC").
		First(&call).Error
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (s *gormStore) RecentCalls(ctx context.Context, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}
	var calls []Call
	err := s.connector.DB(ctx).Order("id DESC").Limit(limit).Find(&calls).Error
	return calls, err
}

func (s *gormStore) CallEvents(ctx context.Context, sessionID string) ([]Event, error) {
	var events []Event
	err := s.connector.DB(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Find(&events).Error
	return events, err
}

func (s *gormStore) CallTranscripts(ctx context.Context, sessionID string) ([]Transcript, error) {
	var transcripts []Transcript
	err := s.connector.DB(ctx).
		Where("session_id = ?", sessionID).
		Order("relative_timestamp_ms ASC").
		Find(&transcripts).Error
	return transcripts, err
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
