// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_store

import (
	"time"
)

// Call is the durable record of one bridged call.
type Call struct {
	ID         uint   `gorm:"primaryKey"`
	SessionID  string `gorm:"uniqueIndex;size:64"`
	CallSid    string `gorm:"index;size:64"`
	StreamSid  string `gorm:"size:64"`
	Direction  string `gorm:"size:16"`
	PeerNumber string `gorm:"size:32"`
	State      string `gorm:"size:32"`

	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds float64
	EndReason       string `gorm:"size:64"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is one durably persisted session event. Only allowlisted kinds are
// written; the full stream lives in the in-memory ring.
type Event struct {
	ID        uint   `gorm:"primaryKey"`
	EventID   string `gorm:"uniqueIndex;size:64"`
	SessionID string `gorm:"index;size:64"`
	CallSid   string `gorm:"index;size:64"`
	Kind      string `gorm:"size:80"`
	Direction string `gorm:"size:16"`
	Payload   string `gorm:"type:text"`
	Timestamp time.Time
	CreatedAt time.Time
}

// Transcript is one finalised utterance, written at call end.
type Transcript struct {
	ID                  uint   `gorm:"primaryKey"`
	SessionID           string `gorm:"index;size:64"`
	CallSid             string `gorm:"index;size:64"`
	Speaker             string `gorm:"size:16"`
	Text                string `gorm:"type:text"`
	RelativeTimestampMs int64
	CreatedAt           time.Time
}

// Recording is the metadata of one retained two-track recording.
type Recording struct {
	ID              uint   `gorm:"primaryKey"`
	RecordingID     string `gorm:"uniqueIndex;size:64"`
	SessionID       string `gorm:"index;size:64"`
	CallSid         string `gorm:"index;size:64"`
	Path            string `gorm:"size:256"`
	DurationSeconds float64
	Bytes           int64
	CreatedAt       time.Time
}
