// Package broadcast tracks, per participant, which graph element versions
// have already been sent, so the room can ship incremental deltas instead
// of re-sending the whole graph on every change, while still periodically
// forcing a full sync as a safety net against dropped deltas.
package broadcast

import (
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
)

// DefaultFullSyncInterval is how often a registered participant is forced
// back onto a full graph sync even if every delta so far has been acked by
// version bookkeeping.
const DefaultFullSyncInterval = 20 * time.Second

// userState is the per-participant bookkeeping: which version of each
// element we last sent them, and when we last gave them a full snapshot.
type userState struct {
	lastSentVersions map[types.ElementID]uint64
	lastFullSync     *time.Time
}

// Manager tracks broadcast state for every participant currently in a room.
type Manager struct {
	users             map[types.UserIDType]*userState
	fullSyncInterval  time.Duration
}

// NewManager creates a manager using the default 20s full-sync interval.
func NewManager() *Manager {
	return &Manager{
		users:            make(map[types.UserIDType]*userState),
		fullSyncInterval: DefaultFullSyncInterval,
	}
}

// RegisterUser starts tracking a newly joined participant.
func (m *Manager) RegisterUser(userID types.UserIDType) {
	m.users[userID] = &userState{lastSentVersions: make(map[types.ElementID]uint64)}
}

// UnregisterUser stops tracking a departed participant.
func (m *Manager) UnregisterUser(userID types.UserIDType) {
	delete(m.users, userID)
}

// HasUser reports whether a participant is currently tracked.
func (m *Manager) HasUser(userID types.UserIDType) bool {
	_, ok := m.users[userID]
	return ok
}

// UserCount returns how many participants are tracked.
func (m *Manager) UserCount() int {
	return len(m.users)
}

// NeedsFullSync reports whether a participant is due for a full snapshot.
// An unregistered user defensively reports true: better to over-sync an
// unknown participant than to silently withhold state from them.
func (m *Manager) NeedsFullSync(userID types.UserIDType) bool {
	u, ok := m.users[userID]
	if !ok {
		return true
	}
	if u.lastFullSync == nil {
		return true
	}
	return time.Since(*u.lastFullSync) >= m.fullSyncInterval
}

// MarkFullSync records that a participant just received a full snapshot,
// which also resets their per-element version bookkeeping since the
// snapshot re-establishes a known baseline.
func (m *Manager) MarkFullSync(userID types.UserIDType, elements map[types.ElementID]uint64) {
	u, ok := m.users[userID]
	if !ok {
		u = &userState{lastSentVersions: make(map[types.ElementID]uint64)}
		m.users[userID] = u
	}
	now := time.Now()
	u.lastFullSync = &now
	u.lastSentVersions = make(map[types.ElementID]uint64, len(elements))
	for id, v := range elements {
		u.lastSentVersions[id] = v
	}
}

// ShouldSendUpdate reports whether a participant has not yet seen this
// element's version. An unregistered user defensively reports true.
func (m *Manager) ShouldSendUpdate(userID types.UserIDType, id types.ElementID, version uint64) bool {
	u, ok := m.users[userID]
	if !ok {
		return true
	}
	last, seen := u.lastSentVersions[id]
	if !seen {
		return true
	}
	return version > last
}

// MarkSent records that a participant has now seen this element's version.
func (m *Manager) MarkSent(userID types.UserIDType, id types.ElementID, version uint64) {
	u, ok := m.users[userID]
	if !ok {
		return
	}
	u.lastSentVersions[id] = version
}

// MarkBatchSent records several elements as sent at once, for the end of a
// tick's delta broadcast.
func (m *Manager) MarkBatchSent(userID types.UserIDType, versions map[types.ElementID]uint64) {
	u, ok := m.users[userID]
	if !ok {
		return
	}
	for id, v := range versions {
		u.lastSentVersions[id] = v
	}
}

// GetChangedElements filters a candidate set of (id, version) pairs down to
// the ones a participant has not yet seen.
func (m *Manager) GetChangedElements(userID types.UserIDType, candidates map[types.ElementID]uint64) map[types.ElementID]uint64 {
	out := make(map[types.ElementID]uint64)
	for id, v := range candidates {
		if m.ShouldSendUpdate(userID, id, v) {
			out[id] = v
		}
	}
	return out
}

// ResetUser clears a participant's version bookkeeping without removing
// them from tracking, forcing their next check to behave like a fresh join.
func (m *Manager) ResetUser(userID types.UserIDType) {
	u, ok := m.users[userID]
	if !ok {
		return
	}
	u.lastSentVersions = make(map[types.ElementID]uint64)
	u.lastFullSync = nil
}
