package room

import (
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/idle"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/protocol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
)

// snapshotLocked builds a full GraphStateSnapshot from the current
// authoritative maps. Caller must hold r.mu (read or write).
func (r *Room) snapshotLocked() protocol.GraphStateSnapshot {
	tables := make([]protocol.TableSnapshot, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t)
	}
	relationships := make([]protocol.RelationshipSnapshot, 0, len(r.relationships))
	for _, rel := range r.relationships {
		relationships = append(relationships, rel)
	}
	return protocol.GraphStateSnapshot{
		DiagramID:     string(r.diagramID),
		Tables:        tables,
		Relationships: relationships,
	}
}

// elementVersionsLocked builds the (id -> version) map the broadcast
// manager uses to baseline a participant after a full sync. Caller must
// hold r.mu.
func (r *Room) elementVersionsLocked() map[types.ElementID]uint64 {
	out := make(map[types.ElementID]uint64, len(r.tables)+len(r.relationships))
	for id, t := range r.tables {
		out[types.ElementID{Kind: types.ElementKindTable, ID: id}] = t.Version
	}
	for id, rel := range r.relationships {
		out[types.ElementID{Kind: types.ElementKindRelationship, ID: id}] = rel.Version
	}
	return out
}

// broadcastLocked sends one frame to every connected participant. Caller
// must hold r.mu (write lock, since participants may be read concurrently
// with mutation elsewhere in the same critical section).
func (r *Room) broadcastLocked(frameType protocol.FrameType, payload any) {
	for _, p := range r.participants {
		p.client.SendFrame(string(frameType), payload)
	}
}

// broadcastExcludingLocked sends one frame to every participant except the
// one identified by exclude - the sender of the event that triggered it.
func (r *Room) broadcastExcludingLocked(exclude types.UserIDType, frameType protocol.FrameType, payload any) {
	for userID, p := range r.participants {
		if userID == exclude {
			continue
		}
		p.client.SendFrame(string(frameType), payload)
	}
}

// broadcastExcludingRawLocked relays an opaque byte payload (the CRDT log
// entries) to everyone but the sender, bypassing JSON payload encoding
// since the bytes are already a complete wire-ready blob.
func (r *Room) broadcastExcludingRawLocked(exclude types.UserIDType, raw []byte) {
	for userID, p := range r.participants {
		if userID == exclude {
			continue
		}
		p.client.SendRaw(raw)
	}
}

// broadcastActivityLocked announces a presence transition to everyone.
func (r *Room) broadcastActivityLocked(userID types.UserIDType, status idle.Status) {
	r.broadcastLocked(protocol.FrameActivityUpdate, protocol.ActivityUpdatePayload{
		UserID:   string(userID),
		Activity: string(status),
	})
}

// sendErrorLocked sends one participant a machine-readable error frame.
func (r *Room) sendErrorLocked(client types.ClientInterface, code protocol.ErrorCode, message string) {
	client.SendFrame(string(protocol.FrameError), protocol.ErrorPayload{Code: code, Message: message})
}

// flushSchemaUpdatesLocked sends each participant the delta of table and
// relationship versions they have not yet seen, per their broadcast
// manager bookkeeping, falling back to a full sync when one is due.
func (r *Room) flushSchemaUpdatesLocked() {
	candidates := r.elementVersionsLocked()

	for userID, p := range r.participants {
		if r.broadcastMgr.NeedsFullSync(userID) {
			p.client.SendFrame(string(protocol.FrameGraphState), protocol.GraphStatePayload{Graph: r.snapshotLocked()})
			r.broadcastMgr.MarkFullSync(userID, candidates)
			continue
		}

		changed := r.broadcastMgr.GetChangedElements(userID, candidates)
		if len(changed) == 0 {
			continue
		}

		var tables []protocol.TableSnapshot
		var relationships []protocol.RelationshipSnapshot
		sent := make(map[types.ElementID]uint64, len(changed))
		for id := range changed {
			switch id.Kind {
			case types.ElementKindTable:
				// Skip a table the recipient is actively dragging: their
				// local optimistic position is authoritative to them
				// until the drag ends, so a mid-gesture delta would only
				// cause visible jitter.
				if p.dragging[id.ID] {
					continue
				}
				if t, ok := r.tables[id.ID]; ok {
					tables = append(tables, t)
					sent[id] = t.Version
				}
			case types.ElementKindRelationship:
				if rel, ok := r.relationships[id.ID]; ok {
					relationships = append(relationships, rel)
					sent[id] = rel.Version
				}
			}
		}

		p.client.SendFrame(string(protocol.FrameGraphUpdate), protocol.GraphUpdatePayload{
			Tables:        tables,
			Relationships: relationships,
		})
		r.broadcastMgr.MarkBatchSent(userID, sent)
	}
}
