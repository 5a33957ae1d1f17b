// Package protocol defines the JSON-framed wire protocol LiveShare
// connections speak: a length-prefixed, tagged-union frame per message,
// plus the graph snapshot types the room and reconciler operate on.
package protocol

import "encoding/json"

// FrameType discriminates the tagged union carried by every Frame.
type FrameType string

const (
	// Client -> server

	FrameJoin              FrameType = "join"
	FrameGraphOp           FrameType = "graph_op"
	FrameCursorUpdate      FrameType = "cursor_update"
	FrameAwarenessUpdate   FrameType = "awareness_update"
	FrameTableDragStart    FrameType = "table_drag_start"
	FrameTableDragEnd      FrameType = "table_drag_end"
	FrameRequestGraphState FrameType = "request_graph_state"
	FramePageHidden        FrameType = "page_hidden"
	FramePageVisible       FrameType = "page_visible"
	FramePing              FrameType = "ping"

	// Server -> client

	FrameJoinResult        FrameType = "join_result"
	FrameGraphState        FrameType = "graph_state"
	FrameGraphUpdate       FrameType = "graph_update"
	FrameCursorBroadcast   FrameType = "cursor_broadcast"
	FrameAwarenessBatch    FrameType = "awareness_batch"
	FrameParticipantJoined FrameType = "participant_joined"
	FrameParticipantLeft   FrameType = "participant_left"
	FrameActivityUpdate    FrameType = "activity_update"
	FrameSnapshotRecovery  FrameType = "snapshot_recovery"
	FrameError             FrameType = "error"
	FramePong              FrameType = "pong"
)

// Frame is the envelope every LiveShare message is wrapped in. Payload is
// deferred decoding (json.RawMessage) so the connection handler can
// dispatch on Type before committing to a concrete payload shape.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals a typed payload into a Frame ready to write to the wire.
func Encode(t FrameType, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Payload: raw}, nil
}

// --- Client -> server payloads ---

// JoinPayload requests entry into a room for a given diagram. Password is
// required when the room was created with one (RoomConfig.PasswordHash set
// via the Control API) and is otherwise ignored.
type JoinPayload struct {
	DiagramID   string `json:"diagramId"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password,omitempty"`
}

// GraphOpPayload carries one versioned mutation to a table or relationship.
// Exactly one of Table/Relationship is set, selected by Kind.
type GraphOpPayload struct {
	Kind         string                `json:"kind"`
	Table        *TableSnapshot        `json:"table,omitempty"`
	Relationship *RelationshipSnapshot `json:"relationship,omitempty"`
}

// CursorUpdatePayload reports a participant's live pointer position.
type CursorUpdatePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AwarenessUpdatePayload carries an opaque per-user awareness state blob
// (selection, viewport, focus) that LiveShare relays without interpreting.
type AwarenessUpdatePayload struct {
	State json.RawMessage `json:"state"`
}

// TableDragPayload marks the start or end of a drag gesture on one table,
// used to hold back delta updates of that table to the dragging participant
// mid-gesture.
type TableDragPayload struct {
	NodeID uint32 `json:"nodeId"`
}

// --- Server -> client payloads ---

// JoinResultPayload answers a JoinPayload.
type JoinResultPayload struct {
	Success    bool   `json:"success"`
	UserID     string `json:"userId"`
	Permission string `json:"permission"`
	Reason     string `json:"reason,omitempty"`
}

// GraphStatePayload is a full snapshot of the authoritative graph.
type GraphStatePayload struct {
	Graph GraphStateSnapshot `json:"graph"`
}

// GraphUpdatePayload is an incremental delta: only elements changed since
// the recipient's last full sync or last delta.
type GraphUpdatePayload struct {
	Tables        []TableSnapshot        `json:"tables,omitempty"`
	Relationships []RelationshipSnapshot `json:"relationships,omitempty"`
}

// CursorBroadcastPayload relays one participant's cursor to the others.
type CursorBroadcastPayload struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// AwarenessBatchPayload relays a coalesced batch of awareness states.
type AwarenessBatchPayload struct {
	Updates map[string]json.RawMessage `json:"updates"`
}

// ParticipantEventPayload announces a join or leave.
type ParticipantEventPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Permission  string `json:"permission,omitempty"`
}

// ActivityUpdatePayload announces a presence state transition.
type ActivityUpdatePayload struct {
	UserID   string `json:"userId"`
	Activity string `json:"activity"`
}

// SnapshotRecoveryPayload is sent after an unexpected reconnection so the
// client can reconcile local optimistic state against the authoritative
// snapshot.
type SnapshotRecoveryPayload struct {
	Graph   GraphStateSnapshot `json:"graph"`
	Version uint64             `json:"version"`
}

// ErrorCode is the closed set of wire-level error codes (spec error
// taxonomy).
type ErrorCode string

const (
	ErrorCodePermissionDenied    ErrorCode = "permission_denied"
	ErrorCodeRoomFull            ErrorCode = "room_full"
	ErrorCodeRoomNotFound        ErrorCode = "room_not_found"
	ErrorCodeAccessDenied        ErrorCode = "access_denied"
	ErrorCodeWrongPassword       ErrorCode = "wrong_password"
	ErrorCodeRateLimited         ErrorCode = "rate_limited"
	ErrorCodeBackpressure        ErrorCode = "backpressure_exceeded"
	ErrorCodeMalformedFrame      ErrorCode = "malformed_frame"
	ErrorCodeInternal            ErrorCode = "internal_error"
	ErrorCodeActiveSessionExists ErrorCode = "active_session_exists"
)

// ErrorPayload carries a machine-readable failure back to the client.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
