// Package room implements the Room actor: the focal, single-threaded owner
// of one diagram's live collaboration state - participants, the
// authoritative graph, and everyone's broadcast/presence bookkeeping.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/broadcast"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/idle"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/protocol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/reconcile"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/throttle"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// tickInterval drives the room's background loop: flushing throttled
// broadcasts, advancing idle detectors, and pushing full syncs.
const tickInterval = 33 * time.Millisecond

// snapshotInterval is how often a dirty graph is persisted to the
// Snapshot Store, independent of the in-memory full-sync cadence.
const snapshotInterval = 10 * time.Second

// participant is everything the Room tracks about one connected user,
// distinct from the transport-owned types.ClientInterface it wraps.
type participant struct {
	client      types.ClientInterface
	displayName types.DisplayNameType
	idleState   *idle.Detector
	cursor      *throttle.CursorBroadcaster
	dragging    map[uint32]bool
}

// Room owns one diagram's live graph and the participants editing it. All
// mutation flows through the single mutex below; Dispatch is the only
// entry point for inbound frames, exactly as the teacher's Room.Router
// was the sole entry point for protobuf messages.
type Room struct {
	id        types.RoomIDType
	diagramID types.DiagramIDType

	mu            sync.RWMutex
	participants  map[types.UserIDType]*participant
	tables        map[uint32]protocol.TableSnapshot
	relationships map[uint32]protocol.RelationshipSnapshot
	nextVersion   uint64
	crdtLog       [][]byte
	dirty         bool

	broadcastMgr     *broadcast.Manager
	schemaThrottler  *throttle.SchemaThrottler
	awarenessBatcher *throttle.AwarenessBatcher

	oracle   types.AccessOracle
	snapshot types.SnapshotSink
	onEmpty  func(types.RoomIDType)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRoom creates a Room for diagramID, optionally hydrated from a prior
// snapshot (pass nil initial if none exists yet). It starts its own
// background tick loop, mirroring the teacher's pattern of a Room owning
// its own context/cancel/WaitGroup for the lifetime of its goroutines.
func NewRoom(
	id types.RoomIDType,
	diagramID types.DiagramIDType,
	initial *protocol.GraphStateSnapshot,
	oracle types.AccessOracle,
	snapshotSink types.SnapshotSink,
	onEmpty func(types.RoomIDType),
) *Room {
	r := &Room{
		id:               id,
		diagramID:        diagramID,
		participants:     make(map[types.UserIDType]*participant),
		tables:           make(map[uint32]protocol.TableSnapshot),
		relationships:    make(map[uint32]protocol.RelationshipSnapshot),
		broadcastMgr:     broadcast.NewManager(),
		schemaThrottler:  throttle.NewSchemaThrottler(),
		awarenessBatcher: throttle.NewAwarenessBatcher(),
		oracle:           oracle,
		snapshot:         snapshotSink,
		onEmpty:          onEmpty,
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	if initial != nil {
		for _, t := range initial.Tables {
			r.tables[t.NodeID] = t
			if t.Version >= r.nextVersion {
				r.nextVersion = t.Version + 1
			}
		}
		for _, rel := range initial.Relationships {
			r.relationships[rel.EdgeID] = rel
			if rel.Version >= r.nextVersion {
				r.nextVersion = rel.Version + 1
			}
		}
	}

	r.wg.Add(1)
	go r.tickLoop()

	return r
}

// GetID returns the room's identifier.
func (r *Room) GetID() types.RoomIDType {
	return r.id
}

// GetDiagramID returns the diagram this room is editing, so a connection
// handler can consult the Access Oracle before the room's lock is ever
// touched.
func (r *Room) GetDiagramID() types.DiagramIDType {
	return r.diagramID
}

// IsEmpty reports whether the room has no connected participants.
func (r *Room) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) == 0
}

// ParticipantCount reports how many participants are currently connected,
// consulted by the connection handler to enforce a room's max_users cap
// before admitting one more.
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// HandleClientConnect registers a newly authorized participant and sends
// them the full authoritative graph. Permission has already been checked
// by the caller against the Access Oracle before the lock is taken, per
// SPEC_FULL.md's "never blocking the room's lock" rule.
func (r *Room) HandleClientConnect(client types.ClientInterface, displayName types.DisplayNameType, permission types.Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := client.GetID()
	r.participants[userID] = &participant{
		client:      client,
		displayName: displayName,
		idleState:   idle.NewDetector(),
		cursor:      throttle.NewCursorBroadcaster(),
		dragging:    make(map[uint32]bool),
	}
	client.SetPermission(permission)
	r.broadcastMgr.RegisterUser(userID)

	client.SendFrame(string(protocol.FrameGraphState), protocol.GraphStatePayload{Graph: r.snapshotLocked()})
	r.broadcastMgr.MarkFullSync(userID, r.elementVersionsLocked())

	metrics.RoomParticipants.WithLabelValues(string(r.id)).Set(float64(len(r.participants)))

	r.broadcastExcludingLocked(userID, protocol.FrameParticipantJoined, protocol.ParticipantEventPayload{
		UserID:      string(userID),
		DisplayName: string(displayName),
		Permission:  string(permission),
	})
}

// HandleClientDisconnect removes a participant and tells everyone left.
func (r *Room) HandleClientDisconnect(client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := client.GetID()
	p, ok := r.participants[userID]
	if !ok {
		return
	}
	delete(r.participants, userID)
	r.broadcastMgr.UnregisterUser(userID)

	metrics.RoomParticipants.WithLabelValues(string(r.id)).Set(float64(len(r.participants)))

	r.broadcastLocked(protocol.FrameParticipantLeft, protocol.ParticipantEventPayload{
		UserID:      string(userID),
		DisplayName: string(p.displayName),
	})

	if len(r.participants) == 0 && r.onEmpty != nil {
		cb := r.onEmpty
		id := r.id
		go cb(id)
	}
}

// Dispatch routes one decoded frame from a connected client to its
// handler, the room-package equivalent of the teacher's protobuf Router.
func (r *Room) Dispatch(ctx context.Context, client types.ClientInterface, frameType string, raw []byte) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(frameType).Observe(time.Since(start).Seconds())
		metrics.WebsocketEvents.WithLabelValues(frameType, status).Inc()
	}()

	switch protocol.FrameType(frameType) {
	case protocol.FrameGraphOp:
		var payload protocol.GraphOpPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			status = "malformed"
			r.sendErrorLocked(client, protocol.ErrorCodeMalformedFrame, "malformed graph_op payload")
			return
		}
		if err := r.ApplyGraphOp(client, payload); err != nil {
			status = "rejected"
		}

	case protocol.FrameCursorUpdate:
		var payload protocol.CursorUpdatePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			status = "malformed"
			return
		}
		r.UpdateCursor(client, payload.X, payload.Y)

	case protocol.FrameAwarenessUpdate:
		var payload protocol.AwarenessUpdatePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			status = "malformed"
			return
		}
		r.UpdateAwareness(client, payload.State)

	case protocol.FrameTableDragStart:
		var payload protocol.TableDragPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			status = "malformed"
			return
		}
		r.TableDragStart(client, payload.NodeID)

	case protocol.FrameTableDragEnd:
		var payload protocol.TableDragPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			status = "malformed"
			return
		}
		r.TableDragEnd(client, payload.NodeID)

	case protocol.FrameRequestGraphState:
		r.RequestGraphState(client)

	case protocol.FramePageHidden:
		r.RecordPageHidden(client)

	case protocol.FramePageVisible:
		r.RecordPageVisible(client)

	case protocol.FramePing:
		client.SendFrame(string(protocol.FramePong), nil)

	default:
		status = "unknown"
		logging.Warn(ctx, "dispatch: unknown frame type", zap.String("frameType", frameType))
	}
}

// ApplyGraphOp reconciles one incoming table or relationship mutation
// against the authoritative graph using last-writer-wins, then fans out
// the outcome. The originator's Version/LastModifiedAt flow into the
// reconciler unchanged, so two concurrent edits at the same version settle
// on whichever has the higher timestamp; a server-assigned version is only
// stamped the first time an id is seen, since a brand-new element has no
// originator version yet. Mutation is rejected for view-only participants.
func (r *Room) ApplyGraphOp(client types.ClientInterface, payload protocol.GraphOpPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !client.GetPermission().CanEdit() {
		r.sendErrorLocked(client, protocol.ErrorCodePermissionDenied, "edit permission required")
		return errPermissionDenied
	}

	now := time.Now().UnixMilli()

	switch payload.Kind {
	case "table":
		if payload.Table == nil {
			r.sendErrorLocked(client, protocol.ErrorCodeMalformedFrame, "graph_op kind=table missing table")
			return nil
		}
		incoming := *payload.Table
		if _, exists := r.tables[incoming.NodeID]; !exists {
			incoming.Version = r.nextVersion
			incoming.LastModifiedAt = now
			r.nextVersion++
		}

		changed := reconcile.ReconcileMap(
			r.tables,
			[]protocol.TableSnapshot{incoming},
			func(t protocol.TableSnapshot) uint32 { return t.NodeID },
			func(t protocol.TableSnapshot) reconcile.Ordered {
				return reconcile.Ordered{Version: t.Version, LastModifiedAt: t.LastModifiedAt}
			},
		)
		metrics.GraphOpsTotal.WithLabelValues("table", reconcileOutcome(changed)).Inc()
		r.dirty = r.dirty || len(changed) > 0

	case "relationship":
		if payload.Relationship == nil {
			r.sendErrorLocked(client, protocol.ErrorCodeMalformedFrame, "graph_op kind=relationship missing relationship")
			return nil
		}
		incoming := *payload.Relationship
		if _, exists := r.relationships[incoming.EdgeID]; !exists {
			incoming.Version = r.nextVersion
			incoming.LastModifiedAt = now
			r.nextVersion++
		}

		changed := reconcile.ReconcileMap(
			r.relationships,
			[]protocol.RelationshipSnapshot{incoming},
			func(rel protocol.RelationshipSnapshot) uint32 { return rel.EdgeID },
			func(rel protocol.RelationshipSnapshot) reconcile.Ordered {
				return reconcile.Ordered{Version: rel.Version, LastModifiedAt: rel.LastModifiedAt}
			},
		)
		metrics.GraphOpsTotal.WithLabelValues("relationship", reconcileOutcome(changed)).Inc()
		r.dirty = r.dirty || len(changed) > 0

	default:
		r.sendErrorLocked(client, protocol.ErrorCodeMalformedFrame, "unknown graph_op kind")
	}

	if p, ok := r.participants[client.GetID()]; ok {
		p.idleState.RecordActivity()
	}

	return nil
}

// ApplyUpdate appends an opaque CRDT byte operation to the room's log and
// relays it unparsed to every other participant, per the Open Question
// decision to keep the log forwarded-but-uninterpreted.
func (r *Room) ApplyUpdate(client types.ClientInterface, op []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.crdtLog = append(r.crdtLog, op)
	r.broadcastExcludingRawLocked(client.GetID(), op)
}

// UpdateCursor records a participant's pointer position, subject to both
// per-connection throttling and position deduplication.
func (r *Room) UpdateCursor(client types.ClientInterface, x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := client.GetID()
	p, ok := r.participants[userID]
	if !ok {
		return
	}
	p.idleState.RecordActivity()

	pos, ok := p.cursor.UpdatePosition(x, y)
	if !ok {
		return
	}
	r.broadcastExcludingLocked(userID, protocol.FrameCursorBroadcast, protocol.CursorBroadcastPayload{
		UserID: string(userID), X: pos.X, Y: pos.Y,
	})
}

// UpdateAwareness queues one participant's opaque awareness state for the
// next batched flush.
func (r *Room) UpdateAwareness(client types.ClientInterface, state json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.awarenessBatcher.Add(string(client.GetID()), state)
	if p, ok := r.participants[client.GetID()]; ok {
		p.idleState.RecordActivity()
	}
}

// TableDragStart marks a table as actively being dragged by a participant,
// holding back delta updates of that node to this participant until the
// drag ends.
func (r *Room) TableDragStart(client types.ClientInterface, nodeID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[client.GetID()]; ok {
		p.dragging[nodeID] = true
		p.idleState.RecordActivity()
	}
}

// TableDragEnd clears a table's drag marker.
func (r *Room) TableDragEnd(client types.ClientInterface, nodeID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[client.GetID()]; ok {
		delete(p.dragging, nodeID)
		p.idleState.RecordActivity()
	}
}

// RequestGraphState answers from the room's own in-memory graph, per
// SPEC_FULL.md's Open Question decision: peer-relay is not used in normal
// operation, only kept as a documented fallback for API symmetry.
func (r *Room) RequestGraphState(client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client.SendFrame(string(protocol.FrameGraphState), protocol.GraphStatePayload{Graph: r.snapshotLocked()})
	r.broadcastMgr.MarkFullSync(client.GetID(), r.elementVersionsLocked())
}

// RequestGraphStateViaPeer is the documented fallback path: it relays a
// graph-state request to an arbitrary other participant instead of
// answering from memory. It exists only for API symmetry with the peer-
// relay design considered in SPEC_FULL.md and is never used when the room
// itself holds authoritative state - callers should prefer
// RequestGraphState.
func (r *Room) RequestGraphStateViaPeer(requester types.ClientInterface) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for userID, p := range r.participants {
		if userID == requester.GetID() {
			continue
		}
		p.client.SendFrame(string(protocol.FrameRequestGraphState), protocol.JoinResultPayload{UserID: string(requester.GetID())})
		return true
	}
	return false
}

// RecordPageHidden marks a participant Away immediately.
func (r *Room) RecordPageHidden(client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[client.GetID()]; ok {
		p.idleState.RecordPageHidden()
		r.broadcastActivityLocked(client.GetID(), p.idleState.Status())
	}
}

// RecordPageVisible clears a participant's Away state if it was set by
// page visibility.
func (r *Room) RecordPageVisible(client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[client.GetID()]; ok {
		p.idleState.RecordPageVisible()
		r.broadcastActivityLocked(client.GetID(), p.idleState.Status())
	}
}

// Tick advances every participant's idle detector, flushes the schema
// throttler and awareness batcher, and pushes delta or full syncs as
// needed. It is cooperative - only the background tickLoop goroutine (or a
// test) calls it.
func (r *Room) Tick(ctx context.Context) {
	r.mu.Lock()

	for userID, p := range r.participants {
		if p.idleState.Tick() {
			r.broadcastActivityLocked(userID, p.idleState.Status())
		}
		if pos, ok := p.cursor.Flush(); ok {
			r.broadcastExcludingLocked(userID, protocol.FrameCursorBroadcast, protocol.CursorBroadcastPayload{
				UserID: string(userID), X: pos.X, Y: pos.Y,
			})
		}
	}

	if r.awarenessBatcher.ShouldFlush() {
		entries := r.awarenessBatcher.Flush()
		updates := make(map[string]json.RawMessage, len(entries))
		for _, e := range entries {
			updates[e.UserID] = e.State
		}
		r.broadcastLocked(protocol.FrameAwarenessBatch, protocol.AwarenessBatchPayload{Updates: updates})
	}

	if r.schemaThrottler.ShouldSend() {
		r.flushSchemaUpdatesLocked()
		r.schemaThrottler.MarkSent()
	}

	dirty := r.dirty
	r.mu.Unlock()

	if dirty {
		r.saveSnapshotAsync(ctx)
	}
}

// Shutdown stops the background tick loop and waits for in-flight
// background work (snapshot saves) to finish, bounded by ctx.
func (r *Room) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) tickLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastSnapshot := time.Now()

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.Tick(r.ctx)
			if now.Sub(lastSnapshot) >= snapshotInterval {
				lastSnapshot = now
				r.saveSnapshotAsync(r.ctx)
			}
		}
	}
}

// SaveSnapshot marshals the current graph and persists it through the
// Snapshot Store, clearing the dirty flag on success.
func (r *Room) SaveSnapshot(ctx context.Context) error {
	r.mu.Lock()
	snap := r.snapshotLocked()
	snap.SavedAt = time.Now().Unix()
	version := r.nextVersion
	r.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		logging.Error(ctx, "snapshot marshal failed", zap.Error(err))
		return err
	}

	if err := r.snapshot.Save(ctx, r.diagramID, data, version); err != nil {
		metrics.SnapshotOpsTotal.WithLabelValues("save", "error").Inc()
		return err
	}
	metrics.SnapshotOpsTotal.WithLabelValues("save", "ok").Inc()

	r.mu.Lock()
	r.dirty = false
	r.mu.Unlock()
	return nil
}

func (r *Room) saveSnapshotAsync(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.SaveSnapshot(ctx); err != nil {
			logging.Warn(ctx, "background snapshot save failed", zap.Error(err))
		}
	}()
}

var errPermissionDenied = errors.New("edit permission required")

func reconcileOutcome(changed []uint32) string {
	if len(changed) > 0 {
		return "applied"
	}
	return "stale"
}
