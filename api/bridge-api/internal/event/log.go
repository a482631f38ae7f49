// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_event

import "sync"

const (
	// DefaultCap is the ring capacity before a trim.
	DefaultCap = 1000
	// DefaultTrimTo is the retained size after a trim. Trimming in bulk
	// amortises the copy over many appends.
	DefaultTrimTo = 500
)

// Log is a per-session bounded append-only event ring. Appends are
// serialised; concurrent producers (AI adapter, orchestrator, observer
// commands) go through the same mutex so observers see a total order.
type Log struct {
	mu      sync.Mutex
	records []*Record
	cap     int
	trimTo  int
	total   uint64
}

// NewLog creates a log with the default bounds.
func NewLog() *Log {
	return &Log{
		records: make([]*Record, 0, DefaultTrimTo),
		cap:     DefaultCap,
		trimTo:  DefaultTrimTo,
	}
}

// Append adds a record, trimming the ring to trimTo once cap is exceeded.
func (l *Log) Append(rec *Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, rec)
	l.total++
	if len(l.records) > l.cap {
		keep := l.records[len(l.records)-l.trimTo:]
		l.records = append(make([]*Record, 0, l.cap), keep...)
	}
}

// Recent returns up to n most recent records, oldest first.
func (l *Log) Recent(n int) []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || len(l.records) == 0 {
		return nil
	}
	start := len(l.records) - n
	if start < 0 {
		start = 0
	}
	out := make([]*Record, len(l.records)-start)
	copy(out, l.records[start:])
	return out
}

// Len reports the number of records currently retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Total reports the number of records ever appended.
func (l *Log) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
