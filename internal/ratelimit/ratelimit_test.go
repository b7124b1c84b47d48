package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	s := ParseHeaders("1700", "1234", "2026-08-31T12:00:00Z")
	assert.Equal(t, 1700, s.Limit)
	assert.Equal(t, 1234, s.Remaining)
	assert.Equal(t, time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), s.Reset)
	assert.True(t, s.Valid())
}

func TestParseHeadersMissing(t *testing.T) {
	s := ParseHeaders("", "", "")
	assert.False(t, s.Valid())
}

func TestClassifyNesting(t *testing.T) {
	tr := NewTracker()
	tests := []struct {
		remaining int
		level     Level
	}{
		{1500, LevelNormal},
		{201, LevelNormal},
		{200, LevelWarning},
		{101, LevelWarning},
		{100, LevelCritical},
		{21, LevelCritical},
		{20, LevelBlocked},
		{0, LevelBlocked},
	}
	for _, tt := range tests {
		tr.Record(Snapshot{Limit: 1700, Remaining: tt.remaining})
		assert.Equal(t, tt.level, tr.Classify(), "remaining=%d", tt.remaining)
	}
}

func TestPredicatesAreNested(t *testing.T) {
	tr := NewTracker()
	// Every blocked value is also critical and warning.
	for _, remaining := range []int{0, 10, 20} {
		require.True(t, tr.IsBlocked(remaining))
		require.True(t, tr.IsCritical(remaining))
		require.True(t, tr.IsWarning(remaining))
	}
	assert.False(t, tr.IsBlocked(21))
	assert.True(t, tr.IsCritical(21))
	assert.False(t, tr.IsCritical(101))
	assert.True(t, tr.IsWarning(101))
	assert.False(t, tr.IsWarning(201))
}

func TestRecordIgnoresInvalid(t *testing.T) {
	tr := NewTracker()
	tr.Record(Snapshot{Limit: 1700, Remaining: 50})
	tr.Record(Snapshot{}) // no headers on this exchange
	assert.Equal(t, 50, tr.Last().Remaining)
	assert.Equal(t, LevelCritical, tr.Classify())
}

func TestShouldSkipPoll(t *testing.T) {
	t.Run("normal quota never sheds", func(t *testing.T) {
		tr := NewTracker()
		tr.Record(Snapshot{Limit: 1700, Remaining: 1000})
		for i := 0; i < 10; i++ {
			assert.False(t, tr.ShouldSkipPoll())
		}
	})

	t.Run("strained quota allows every Nth poll", func(t *testing.T) {
		tr := NewTracker()
		tr.Record(Snapshot{Limit: 1700, Remaining: 150})

		allowed := 0
		for i := 0; i < 2*DefaultSkipModulus; i++ {
			if !tr.ShouldSkipPoll() {
				allowed++
			}
		}
		assert.Equal(t, 2, allowed)
	})

	t.Run("recovery resets the counter", func(t *testing.T) {
		tr := NewTracker()
		tr.Record(Snapshot{Limit: 1700, Remaining: 150})
		assert.True(t, tr.ShouldSkipPoll())
		assert.True(t, tr.ShouldSkipPoll())

		tr.Record(Snapshot{Limit: 1700, Remaining: 900})
		assert.False(t, tr.ShouldSkipPoll())

		// Strained again: the stale skip progress must not carry over.
		tr.Record(Snapshot{Limit: 1700, Remaining: 150})
		assert.True(t, tr.ShouldSkipPoll())
	})
}
