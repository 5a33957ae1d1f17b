// Package roommanager is the directory of live rooms: it creates, looks
// up, and tears down per-diagram Room actors, enforcing that at most one
// room is active per diagram at a time. Shared by both the WebSocket
// connection handler and the Control API so mutations from either surface
// land on the same Room instance.
package roommanager

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/protocol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/room"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// ErrActiveSessionExists is returned by Create when the requested diagram
// already has a live room.
var ErrActiveSessionExists = errors.New("an active session already exists for this diagram")

// ErrRoomExists is returned by Create when the requested room id is
// already taken.
var ErrRoomExists = errors.New("a room with this id already exists")

// ErrForbidden is returned by Update/Delete when the requester is not the
// room's owner.
var ErrForbidden = errors.New("only the room owner may perform this action")

// ErrRoomNotFound is returned by Update when the room does not exist.
var ErrRoomNotFound = errors.New("room not found")

// defaultCleanupGracePeriod mirrors the teacher's Hub: a room that drops to
// zero participants is not torn down instantly, giving a reconnecting
// client time to rejoin without losing in-memory state.
const defaultCleanupGracePeriod = 5 * time.Second

// RoomConfig is the Control API's creation/update payload for a room,
// independent of the live Room actor's in-memory graph state.
type RoomConfig struct {
	Name         string
	PasswordHash string
	MaxUsers     int
}

// roomMeta is the Control API's bookkeeping for a room, kept alongside the
// Roomer rather than inside Room itself: ownership and display config are
// directory concerns, not collaboration-state concerns.
type roomMeta struct {
	owner     types.UserIDType
	diagramID types.DiagramIDType
	config    RoomConfig
	createdAt time.Time
}

// Manager is the room directory.
type Manager struct {
	mu                 sync.Mutex
	rooms              map[types.RoomIDType]types.Roomer
	meta               map[types.RoomIDType]*roomMeta
	byDiagram          map[types.DiagramIDType]types.RoomIDType
	pendingCleanups    map[types.RoomIDType]*time.Timer
	cleanupGracePeriod time.Duration

	oracle   types.AccessOracle
	snapshot types.SnapshotSink
}

// NewManager creates a room directory backed by the given Access Oracle
// and Snapshot Store, both shared across every room it creates.
func NewManager(oracle types.AccessOracle, snapshotSink types.SnapshotSink) *Manager {
	return &Manager{
		rooms:              make(map[types.RoomIDType]types.Roomer),
		meta:               make(map[types.RoomIDType]*roomMeta),
		byDiagram:          make(map[types.DiagramIDType]types.RoomIDType),
		pendingCleanups:    make(map[types.RoomIDType]*time.Timer),
		cleanupGracePeriod: defaultCleanupGracePeriod,
		oracle:             oracle,
		snapshot:           snapshotSink,
	}
}

// Create starts a new room under the given id for diagramID, hydrating it
// from the most recent snapshot if one exists. Returns ErrRoomExists if
// roomID is already taken, or ErrActiveSessionExists if a different room
// for this diagram is already live (invariant I-M1: at most one active
// room per diagram).
func (m *Manager) Create(ctx context.Context, roomID types.RoomIDType, diagramID types.DiagramIDType, owner types.UserIDType, cfg RoomConfig) (types.Roomer, error) {
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = 50
	}

	m.mu.Lock()
	if _, ok := m.rooms[roomID]; ok {
		m.mu.Unlock()
		return nil, ErrRoomExists
	}
	if existingID, ok := m.byDiagram[diagramID]; ok {
		m.mu.Unlock()
		logging.Warn(ctx, "room create rejected: diagram already has an active session",
			zap.String("diagramId", string(diagramID)), zap.String("roomId", string(existingID)))
		return nil, ErrActiveSessionExists
	}
	m.mu.Unlock()

	var initial *protocol.GraphStateSnapshot
	if m.snapshot != nil {
		data, _, err := m.snapshot.Latest(ctx, diagramID)
		if err != nil {
			logging.Warn(ctx, "snapshot hydrate failed, starting from empty graph", zap.Error(err))
		} else if len(data) > 0 {
			var snap protocol.GraphStateSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				logging.Warn(ctx, "snapshot decode failed, starting from empty graph", zap.Error(err))
			} else {
				initial = &snap
			}
		}
	}

	m.mu.Lock()
	// Re-check under lock in case of a racing Create for the same room/diagram.
	if _, ok := m.rooms[roomID]; ok {
		m.mu.Unlock()
		return nil, ErrRoomExists
	}
	if _, ok := m.byDiagram[diagramID]; ok {
		m.mu.Unlock()
		return nil, ErrActiveSessionExists
	}

	r := room.NewRoom(roomID, diagramID, initial, m.oracle, m.snapshot, m.onRoomEmpty)
	m.rooms[roomID] = r
	m.meta[roomID] = &roomMeta{owner: owner, diagramID: diagramID, config: cfg, createdAt: time.Now()}
	m.byDiagram[diagramID] = roomID
	m.mu.Unlock()

	metrics.ActiveRooms.Inc()
	logging.Info(ctx, "room created", zap.String("roomId", string(roomID)), zap.String("diagramId", string(diagramID)))
	return r, nil
}

// RoomInfo is the Control API's read-only view of a room's directory
// metadata, combining what the Manager tracks with live Room state.
type RoomInfo struct {
	ID          types.RoomIDType
	DiagramID   types.DiagramIDType
	Owner       types.UserIDType
	Config      RoomConfig
	IsEmpty     bool
	IsProtected bool
}

// GetInfo returns the directory metadata for a room, if it exists.
func (m *Manager) GetInfo(roomID types.RoomIDType) (RoomInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	meta := m.meta[roomID]
	info := RoomInfo{ID: roomID, IsEmpty: r.IsEmpty()}
	if meta != nil {
		info.DiagramID = meta.diagramID
		info.Owner = meta.owner
		info.Config = meta.config
		info.IsProtected = meta.config.PasswordHash != ""
	}
	return info, true
}

// Update applies a partial config change to a room. Only the room's owner
// may update it, per spec §4.8.
func (m *Manager) Update(ctx context.Context, roomID types.RoomIDType, requester types.UserIDType, patch RoomConfig) (RoomInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return RoomInfo{}, ErrRoomNotFound
	}
	meta, ok := m.meta[roomID]
	if !ok {
		return RoomInfo{}, ErrRoomNotFound
	}
	if meta.owner != requester {
		return RoomInfo{}, ErrForbidden
	}

	if patch.Name != "" {
		meta.config.Name = patch.Name
	}
	if patch.PasswordHash != "" {
		meta.config.PasswordHash = patch.PasswordHash
	}
	if patch.MaxUsers > 0 {
		meta.config.MaxUsers = patch.MaxUsers
	}

	logging.Info(ctx, "room config updated", zap.String("roomId", string(roomID)))
	return RoomInfo{ID: roomID, DiagramID: meta.diagramID, Owner: meta.owner, Config: meta.config, IsProtected: meta.config.PasswordHash != ""}, nil
}

// Get returns the room with the given id, if live.
func (m *Manager) Get(roomID types.RoomIDType) (types.Roomer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if ok {
		m.cancelPendingCleanupLocked(roomID)
	}
	return r, ok
}

// GetByDiagram returns the live room for a diagram, if one exists.
func (m *Manager) GetByDiagram(diagramID types.DiagramIDType) (types.Roomer, bool) {
	m.mu.Lock()
	roomID, ok := m.byDiagram[diagramID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return m.Get(roomID)
}

// ListForDiagram returns every room tracked for a diagram - in practice at
// most one, since Create enforces the "one active room per diagram"
// invariant, but the slice-returning shape keeps the API stable if that
// invariant is ever relaxed.
func (m *Manager) ListForDiagram(diagramID types.DiagramIDType) []types.Roomer {
	if r, ok := m.GetByDiagram(diagramID); ok {
		return []types.Roomer{r}
	}
	return nil
}

// Delete tears down a room immediately, bypassing the grace-period sweep -
// used by the Control API's explicit DELETE /room/:roomId. Only the room's
// owner may delete it, per spec §4.8.
func (m *Manager) Delete(ctx context.Context, roomID types.RoomIDType, requester types.UserIDType) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if meta, ok := m.meta[roomID]; ok && meta.owner != requester {
		m.mu.Unlock()
		return ErrForbidden
	}
	m.cancelPendingCleanupLocked(roomID)
	delete(m.rooms, roomID)
	delete(m.meta, roomID)
	m.deleteDiagramIndexLocked(roomID)
	m.mu.Unlock()

	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(string(roomID))
	return r.Shutdown(ctx)
}

// onRoomEmpty is the Room's onEmpty callback: it schedules a grace-period
// cleanup rather than deleting immediately, mirroring the teacher's
// Hub.removeRoom so a client that drops and reconnects within the window
// doesn't lose the room.
func (m *Manager) onRoomEmpty(roomID types.RoomIDType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelPendingCleanupLocked(roomID)

	timer := time.AfterFunc(m.cleanupGracePeriod, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		r, ok := m.rooms[roomID]
		if !ok || !r.IsEmpty() {
			delete(m.pendingCleanups, roomID)
			return
		}

		delete(m.rooms, roomID)
		delete(m.meta, roomID)
		delete(m.pendingCleanups, roomID)
		m.deleteDiagramIndexLocked(roomID)

		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(string(roomID))

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.Shutdown(ctx)
		}()
	})
	m.pendingCleanups[roomID] = timer
}

func (m *Manager) cancelPendingCleanupLocked(roomID types.RoomIDType) {
	if timer, ok := m.pendingCleanups[roomID]; ok {
		timer.Stop()
		delete(m.pendingCleanups, roomID)
	}
}

func (m *Manager) deleteDiagramIndexLocked(roomID types.RoomIDType) {
	for diagramID, id := range m.byDiagram {
		if id == roomID {
			delete(m.byDiagram, diagramID)
			return
		}
	}
}

// Shutdown tears down every live room, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	rooms := make([]types.Roomer, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	for _, timer := range m.pendingCleanups {
		timer.Stop()
	}
	m.rooms = make(map[types.RoomIDType]types.Roomer)
	m.meta = make(map[types.RoomIDType]*roomMeta)
	m.byDiagram = make(map[types.DiagramIDType]types.RoomIDType)
	m.pendingCleanups = make(map[types.RoomIDType]*time.Timer)
	m.mu.Unlock()

	var firstErr error
	for _, r := range rooms {
		if err := r.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
