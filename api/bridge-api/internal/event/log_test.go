// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_event

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(i int) *Record {
	return New("CA1", KindCallStarted, DirectionIncoming,
		map[string]interface{}{"seq": strconv.Itoa(i)})
}

func TestLogRecentOldestFirst(t *testing.T) {
	l := NewLog()
	for i := 0; i < 10; i++ {
		l.Append(record(i))
	}

	recent := l.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "7", recent[0].Payload["seq"])
	assert.Equal(t, "9", recent[2].Payload["seq"])
}

func TestLogRecentBounds(t *testing.T) {
	l := NewLog()
	l.Append(record(0))

	assert.Nil(t, l.Recent(0))
	assert.Nil(t, l.Recent(-1))
	assert.Len(t, l.Recent(100), 1)
}

func TestLogTrimsInBulk(t *testing.T) {
	l := NewLog()
	for i := 0; i <= DefaultCap; i++ {
		l.Append(record(i))
	}

	// one append past cap trims down to the retained size
	assert.Equal(t, DefaultTrimTo, l.Len())
	assert.Equal(t, uint64(DefaultCap+1), l.Total())

	// newest survive the trim
	recent := l.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, strconv.Itoa(DefaultCap), recent[0].Payload["seq"])
}

func TestLogKeepsFillingAfterTrim(t *testing.T) {
	l := NewLog()
	for i := 0; i < DefaultCap+250; i++ {
		l.Append(record(i))
	}
	assert.Equal(t, DefaultTrimTo+249, l.Len())
}
