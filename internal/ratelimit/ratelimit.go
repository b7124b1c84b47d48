// Package ratelimit tracks the Rachio cloud's rolling API quota, reported via
// X-RateLimit-* response headers, and turns it into a polling decision.
package ratelimit

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Level classifies the remaining quota. The levels are nested: a remaining
// value that is Blocked also counts as Critical, and Critical as Warning.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
	LevelBlocked
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelBlocked:
		return "blocked"
	default:
		return "normal"
	}
}

// Default thresholds. Exact values are not behavior-critical but must stay
// monotonically nested: block <= critical <= warning.
const (
	DefaultWarningThreshold  = 200
	DefaultCriticalThreshold = 100
	DefaultBlockThreshold    = 20
	DefaultSkipModulus       = 5
)

// Snapshot is the quota state observed on one HTTP exchange. It is created
// fresh per call and never persisted; only the most recent one drives the
// polling decision.
type Snapshot struct {
	Limit     int
	Remaining int
	Reset     time.Time

	// Diagnostics for the call that produced the snapshot.
	Method   string
	URL      string
	Code     int
	CallSeq  int
	Observed time.Time
}

// Valid reports whether rate-limit headers were present on the exchange.
func (s Snapshot) Valid() bool {
	return s.Limit > 0
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%d/%d remaining, resets %s", s.Remaining, s.Limit, s.Reset.Format(time.RFC3339))
}

// Tracker records quota snapshots and classifies the current state.
type Tracker struct {
	mu        sync.Mutex
	last      Snapshot
	skipCount int

	warning  int
	critical int
	block    int
	skipEach int
}

// NewTracker returns a tracker with the default thresholds.
func NewTracker() *Tracker {
	return &Tracker{
		warning:  DefaultWarningThreshold,
		critical: DefaultCriticalThreshold,
		block:    DefaultBlockThreshold,
		skipEach: DefaultSkipModulus,
	}
}

// ParseHeaders builds a snapshot from the raw X-RateLimit-* header values.
// Reset is delivered as an RFC3339 timestamp.
func ParseHeaders(limit, remaining, reset string) Snapshot {
	var s Snapshot
	s.Limit, _ = strconv.Atoi(limit)
	s.Remaining, _ = strconv.Atoi(remaining)
	if t, err := time.Parse(time.RFC3339, reset); err == nil {
		s.Reset = t
	}
	s.Observed = time.Now()
	return s
}

// Record stores the snapshot as the most recent observation. Snapshots
// without rate-limit headers are ignored.
func (t *Tracker) Record(s Snapshot) {
	if !s.Valid() {
		return
	}
	t.mu.Lock()
	t.last = s
	t.mu.Unlock()
}

// Last returns the most recently recorded snapshot.
func (t *Tracker) Last() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Classify returns the most severe level the last snapshot falls into.
func (t *Tracker) Classify() Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	return classify(t.last, t.warning, t.critical, t.block)
}

func classify(s Snapshot, warning, critical, block int) Level {
	if !s.Valid() {
		return LevelNormal
	}
	switch {
	case s.Remaining <= block:
		return LevelBlocked
	case s.Remaining <= critical:
		return LevelCritical
	case s.Remaining <= warning:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// IsWarning reports whether the remaining value is at or below the warning
// threshold. Per the nesting invariant this also holds for critical and
// blocked values.
func (t *Tracker) IsWarning(remaining int) bool { return remaining <= t.warning }

// IsCritical reports whether the remaining value is at or below the critical
// threshold.
func (t *Tracker) IsCritical(remaining int) bool { return remaining <= t.critical }

// IsBlocked reports whether the remaining value is at or below the block
// threshold.
func (t *Tracker) IsBlocked(remaining int) bool { return remaining <= t.block }

// ShouldSkipPoll sheds polling load while the quota is strained. In WARNING
// or worse, polls are skipped except for every Nth one, so the mirror keeps
// refreshing slowly instead of stopping abruptly. BLOCKED is handled by the
// caller before asking; this method only implements the shedding policy.
func (t *Tracker) ShouldSkipPoll() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if classify(t.last, t.warning, t.critical, t.block) < LevelWarning {
		t.skipCount = 0
		return false
	}
	t.skipCount++
	if t.skipCount >= t.skipEach {
		t.skipCount = 0
		return false
	}
	return true
}
