// Package throttle provides cooperative, single-threaded rate-limiting
// primitives for outbound LiveShare traffic. None of these types run their
// own goroutine or timer - an owning scheduler (the Room's tick loop) polls
// ShouldSend/ShouldFlush and calls MarkSent/Flush when it actually sends.
package throttle

import (
	"encoding/json"
	"math"
	"time"
)

const (
	// DefaultCursorInterval throttles cursor broadcasts to ~30fps.
	DefaultCursorInterval = 33 * time.Millisecond
	// DefaultSchemaInterval coalesces schema update broadcasts.
	DefaultSchemaInterval = 150 * time.Millisecond
	// DefaultAwarenessInterval batches awareness broadcasts.
	DefaultAwarenessInterval = 100 * time.Millisecond
	// MinCursorPositionDelta is the minimum Euclidean distance a cursor must
	// move before a new position is considered distinct enough to send.
	MinCursorPositionDelta = 1.0
)

// intervalThrottler is the shared shape behind CursorThrottler and
// SchemaThrottler: a single last-sent timestamp gating sends to no more
// than once per interval.
type intervalThrottler struct {
	lastSent time.Time
	hasSent  bool
	interval time.Duration
}

func newIntervalThrottler(interval time.Duration) intervalThrottler {
	return intervalThrottler{interval: interval}
}

func (t *intervalThrottler) shouldSend() bool {
	if !t.hasSent {
		return true
	}
	return time.Since(t.lastSent) >= t.interval
}

func (t *intervalThrottler) markSent() {
	t.lastSent = time.Now()
	t.hasSent = true
}

func (t *intervalThrottler) reset() {
	t.hasSent = false
}

func (t *intervalThrottler) timeSinceLastSend() (time.Duration, bool) {
	if !t.hasSent {
		return 0, false
	}
	return time.Since(t.lastSent), true
}

// CursorThrottler limits how often one participant's cursor broadcasts go
// out, independent of position deduplication (see CursorPosition).
type CursorThrottler struct{ intervalThrottler }

// NewCursorThrottler creates a throttler with the default 33ms interval.
func NewCursorThrottler() *CursorThrottler {
	return &CursorThrottler{newIntervalThrottler(DefaultCursorInterval)}
}

// NewCursorThrottlerWithInterval creates a throttler with a custom interval.
func NewCursorThrottlerWithInterval(interval time.Duration) *CursorThrottler {
	return &CursorThrottler{newIntervalThrottler(interval)}
}

func (t *CursorThrottler) ShouldSend() bool                        { return t.shouldSend() }
func (t *CursorThrottler) MarkSent()                                { t.markSent() }
func (t *CursorThrottler) Reset()                                   { t.reset() }
func (t *CursorThrottler) Interval() time.Duration                  { return t.interval }
func (t *CursorThrottler) TimeSinceLastSend() (time.Duration, bool) { return t.timeSinceLastSend() }

// SchemaThrottler limits how often schema (table/relationship) change
// broadcasts go out for one room.
type SchemaThrottler struct{ intervalThrottler }

// NewSchemaThrottler creates a throttler with the default 150ms interval.
func NewSchemaThrottler() *SchemaThrottler {
	return &SchemaThrottler{newIntervalThrottler(DefaultSchemaInterval)}
}

// NewSchemaThrottlerWithInterval creates a throttler with a custom interval.
func NewSchemaThrottlerWithInterval(interval time.Duration) *SchemaThrottler {
	return &SchemaThrottler{newIntervalThrottler(interval)}
}

func (t *SchemaThrottler) ShouldSend() bool                        { return t.shouldSend() }
func (t *SchemaThrottler) MarkSent()                                { t.markSent() }
func (t *SchemaThrottler) Reset()                                   { t.reset() }
func (t *SchemaThrottler) Interval() time.Duration                  { return t.interval }
func (t *SchemaThrottler) TimeSinceLastSend() (time.Duration, bool) { return t.timeSinceLastSend() }

// AwarenessEntry is one pending (user, state) update waiting to be batched.
type AwarenessEntry struct {
	UserID string
	State  json.RawMessage
}

// AwarenessBatcher accumulates per-user awareness states and flushes them
// together at most once per interval, reducing one message per keystroke
// to one message per batch window.
type AwarenessBatcher struct {
	pending    []AwarenessEntry
	lastFlush  time.Time
	interval   time.Duration
}

// NewAwarenessBatcher creates a batcher with the default 100ms interval.
func NewAwarenessBatcher() *AwarenessBatcher {
	return &AwarenessBatcher{lastFlush: time.Now(), interval: DefaultAwarenessInterval}
}

// NewAwarenessBatcherWithInterval creates a batcher with a custom interval.
func NewAwarenessBatcherWithInterval(interval time.Duration) *AwarenessBatcher {
	return &AwarenessBatcher{lastFlush: time.Now(), interval: interval}
}

// Add queues a user's awareness state for the next flush. A later Add for
// the same user before a flush is appended, not coalesced - the flush
// consumer is expected to keep only the last entry per user if needed.
func (b *AwarenessBatcher) Add(userID string, state json.RawMessage) {
	b.pending = append(b.pending, AwarenessEntry{UserID: userID, State: state})
}

// ShouldFlush reports whether there is pending work and the interval has
// elapsed since the last flush.
func (b *AwarenessBatcher) ShouldFlush() bool {
	if len(b.pending) == 0 {
		return false
	}
	return time.Since(b.lastFlush) >= b.interval
}

// Flush returns and clears all pending entries, resetting the flush timer.
func (b *AwarenessBatcher) Flush() []AwarenessEntry {
	out := b.pending
	b.pending = nil
	b.lastFlush = time.Now()
	return out
}

func (b *AwarenessBatcher) PendingCount() int       { return len(b.pending) }
func (b *AwarenessBatcher) IsEmpty() bool           { return len(b.pending) == 0 }
func (b *AwarenessBatcher) Clear()                  { b.pending = nil }
func (b *AwarenessBatcher) Interval() time.Duration { return b.interval }

// CursorPosition is a 2D pointer location used to deduplicate cursor
// broadcasts: moves smaller than MinCursorPositionDelta are not worth a
// network round trip.
type CursorPosition struct {
	X float64
	Y float64
}

// DistanceTo returns the Euclidean distance between two positions.
func (p CursorPosition) DistanceTo(other CursorPosition) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// IsDifferentFrom reports whether this position has moved at least
// threshold units from other.
func (p CursorPosition) IsDifferentFrom(other CursorPosition, threshold float64) bool {
	return p.DistanceTo(other) >= threshold
}

// CursorBroadcaster combines a CursorThrottler with position deduplication:
// a new position is worth sending only if enough time has passed AND it
// has moved far enough from the last sent position.
type CursorBroadcaster struct {
	throttler        *CursorThrottler
	lastPosition     *CursorPosition
	positionThreshold float64
	pendingPosition  *CursorPosition
}

// NewCursorBroadcaster creates a broadcaster with default throttle interval
// and dedup threshold.
func NewCursorBroadcaster() *CursorBroadcaster {
	return &CursorBroadcaster{
		throttler:         NewCursorThrottler(),
		positionThreshold: MinCursorPositionDelta,
	}
}

// UpdatePosition records a new cursor position. It returns the position to
// broadcast and true if a send is warranted right now. A position within
// the dedup threshold of the last sent one is dropped and clears any
// pending position; a position held back only by the throttle is
// remembered as pending and sent by a later Flush once the throttle
// interval allows it.
func (b *CursorBroadcaster) UpdatePosition(x, y float64) (CursorPosition, bool) {
	pos := CursorPosition{X: x, Y: y}

	if b.lastPosition != nil && !pos.IsDifferentFrom(*b.lastPosition, b.positionThreshold) {
		b.pendingPosition = nil
		return pos, false
	}
	if !b.throttler.ShouldSend() {
		b.pendingPosition = &pos
		return pos, false
	}

	b.throttler.MarkSent()
	b.lastPosition = &pos
	b.pendingPosition = nil
	return pos, true
}

// Flush attempts to send a pending position once the throttle interval has
// elapsed, used by the room's tick loop to catch up on a position that
// arrived mid-throttle-window.
func (b *CursorBroadcaster) Flush() (CursorPosition, bool) {
	if b.pendingPosition == nil || !b.throttler.ShouldSend() {
		return CursorPosition{}, false
	}
	pos := *b.pendingPosition
	b.throttler.MarkSent()
	b.lastPosition = &pos
	b.pendingPosition = nil
	return pos, true
}
