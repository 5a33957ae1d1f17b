package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/protocol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(t *testing.T) (*Room, *mockSnapshotSink) {
	t.Helper()
	sink := &mockSnapshotSink{}
	r := NewRoom("room-1", "diagram-1", nil, &mockOracle{permission: types.PermissionEdit}, sink, nil)
	t.Cleanup(func() {
		_ = r.Shutdown(context.Background())
	})
	return r, sink
}

func TestHandleClientConnect_SendsGraphState(t *testing.T) {
	r, _ := newTestRoom(t)
	client := newMockClient("u1", "Alice", types.PermissionEdit)

	r.HandleClientConnect(client, "Alice", types.PermissionEdit)

	frames := client.framesOfType(string(protocol.FrameGraphState))
	require.Len(t, frames, 1)
	assert.False(t, r.IsEmpty())
}

func TestHandleClientConnect_NotifiesExistingParticipants(t *testing.T) {
	r, _ := newTestRoom(t)
	alice := newMockClient("alice", "Alice", types.PermissionEdit)
	bob := newMockClient("bob", "Bob", types.PermissionView)

	r.HandleClientConnect(alice, "Alice", types.PermissionEdit)
	r.HandleClientConnect(bob, "Bob", types.PermissionView)

	joined := alice.framesOfType(string(protocol.FrameParticipantJoined))
	require.Len(t, joined, 1)
	payload := joined[0].payload.(protocol.ParticipantEventPayload)
	assert.Equal(t, "bob", payload.UserID)

	// Bob should not be told about his own join.
	assert.Empty(t, bob.framesOfType(string(protocol.FrameParticipantJoined)))
}

func TestHandleClientDisconnect_RemovesParticipantAndNotifies(t *testing.T) {
	r, _ := newTestRoom(t)
	alice := newMockClient("alice", "Alice", types.PermissionEdit)
	bob := newMockClient("bob", "Bob", types.PermissionView)
	r.HandleClientConnect(alice, "Alice", types.PermissionEdit)
	r.HandleClientConnect(bob, "Bob", types.PermissionView)

	r.HandleClientDisconnect(bob)

	left := alice.framesOfType(string(protocol.FrameParticipantLeft))
	require.Len(t, left, 1)
}

func TestHandleClientDisconnect_CallsOnEmpty(t *testing.T) {
	sink := &mockSnapshotSink{}
	emptied := make(chan types.RoomIDType, 1)
	r := NewRoom("room-2", "diagram-2", nil, &mockOracle{permission: types.PermissionEdit}, sink, func(id types.RoomIDType) {
		emptied <- id
	})
	defer r.Shutdown(context.Background())

	client := newMockClient("solo", "Solo", types.PermissionEdit)
	r.HandleClientConnect(client, "Solo", types.PermissionEdit)
	r.HandleClientDisconnect(client)

	select {
	case id := <-emptied:
		assert.Equal(t, types.RoomIDType("room-2"), id)
	case <-time.After(time.Second):
		t.Fatal("onEmpty was not called")
	}
}

func TestApplyGraphOp_FirstCreationAssignsServerVersion(t *testing.T) {
	r, _ := newTestRoom(t)
	editor := newMockClient("editor", "Editor", types.PermissionEdit)
	r.HandleClientConnect(editor, "Editor", types.PermissionEdit)

	table := protocol.TableSnapshot{NodeID: 1, Name: "users", PositionX: 10, PositionY: 20}
	err := r.ApplyGraphOp(editor, protocol.GraphOpPayload{Kind: "table", Table: &table})
	require.NoError(t, err)

	r.mu.RLock()
	stored, ok := r.tables[1]
	r.mu.RUnlock()
	require.True(t, ok)
	assert.Equal(t, "users", stored.Name)
	assert.Equal(t, uint64(0), stored.Version)
}

// TestApplyGraphOp_ConcurrentEditsResolveByVersionThenTimestamp mirrors the
// spec's two-editor scenario: both submit version=2 with differing
// timestamps, and the higher-timestamp edit must win no matter which one
// the room's single lock happens to process first.
func TestApplyGraphOp_ConcurrentEditsResolveByVersionThenTimestamp(t *testing.T) {
	r, _ := newTestRoom(t)
	editor := newMockClient("editor", "Editor", types.PermissionEdit)
	r.HandleClientConnect(editor, "Editor", types.PermissionEdit)

	table := protocol.TableSnapshot{NodeID: 1, Name: "users", PositionX: 10, PositionY: 20}
	require.NoError(t, r.ApplyGraphOp(editor, protocol.GraphOpPayload{Kind: "table", Table: &table}))

	earlier := protocol.TableSnapshot{NodeID: 1, Name: "from_u1", Version: 2, LastModifiedAt: 1000}
	later := protocol.TableSnapshot{NodeID: 1, Name: "from_u2", Version: 2, LastModifiedAt: 2000}

	// The higher-timestamp op arrives first; the lower-timestamp op must
	// not be able to overwrite it on arrival alone.
	require.NoError(t, r.ApplyGraphOp(editor, protocol.GraphOpPayload{Kind: "table", Table: &later}))
	require.NoError(t, r.ApplyGraphOp(editor, protocol.GraphOpPayload{Kind: "table", Table: &earlier}))

	r.mu.RLock()
	stored := r.tables[1]
	r.mu.RUnlock()
	assert.Equal(t, "from_u2", stored.Name)
	assert.Equal(t, uint64(2), stored.Version)
}

func TestApplyGraphOp_ViewOnlyRejected(t *testing.T) {
	r, _ := newTestRoom(t)
	viewer := newMockClient("viewer", "Viewer", types.PermissionView)
	r.HandleClientConnect(viewer, "Viewer", types.PermissionView)

	table := protocol.TableSnapshot{NodeID: 1, Name: "users"}
	err := r.ApplyGraphOp(viewer, protocol.GraphOpPayload{Kind: "table", Table: &table})
	assert.Error(t, err)

	errs := viewer.framesOfType(string(protocol.FrameError))
	require.Len(t, errs, 1)
	payload := errs[0].payload.(protocol.ErrorPayload)
	assert.Equal(t, protocol.ErrorCodePermissionDenied, payload.Code)

	r.mu.RLock()
	_, exists := r.tables[1]
	r.mu.RUnlock()
	assert.False(t, exists)
}

func TestUpdateCursor_ThrottledAndDeduped(t *testing.T) {
	r, _ := newTestRoom(t)
	alice := newMockClient("alice", "Alice", types.PermissionEdit)
	bob := newMockClient("bob", "Bob", types.PermissionEdit)
	r.HandleClientConnect(alice, "Alice", types.PermissionEdit)
	r.HandleClientConnect(bob, "Bob", types.PermissionEdit)

	r.UpdateCursor(alice, 100, 100)
	// Immediate second update should be dropped: too soon and/or too close.
	r.UpdateCursor(alice, 100.1, 100.1)

	frames := bob.framesOfType(string(protocol.FrameCursorBroadcast))
	assert.Len(t, frames, 1)
}

func TestDispatch_GraphOpRoundTrip(t *testing.T) {
	r, _ := newTestRoom(t)
	editor := newMockClient("editor", "Editor", types.PermissionEdit)
	r.HandleClientConnect(editor, "Editor", types.PermissionEdit)

	table := protocol.TableSnapshot{NodeID: 5, Name: "orders"}
	payload, err := json.Marshal(protocol.GraphOpPayload{Kind: "table", Table: &table})
	require.NoError(t, err)

	r.Dispatch(context.Background(), editor, string(protocol.FrameGraphOp), payload)

	r.mu.RLock()
	_, ok := r.tables[5]
	r.mu.RUnlock()
	assert.True(t, ok)
}

func TestDispatch_Ping(t *testing.T) {
	r, _ := newTestRoom(t)
	client := newMockClient("u1", "U1", types.PermissionView)
	r.HandleClientConnect(client, "U1", types.PermissionView)

	r.Dispatch(context.Background(), client, string(protocol.FramePing), nil)

	assert.Len(t, client.framesOfType(string(protocol.FramePong)), 1)
}

func TestRecordPageHidden_StickyUntilVisible(t *testing.T) {
	r, _ := newTestRoom(t)
	client := newMockClient("u1", "U1", types.PermissionEdit)
	r.HandleClientConnect(client, "U1", types.PermissionEdit)

	r.RecordPageHidden(client)

	r.mu.RLock()
	status := r.participants["u1"].idleState.Status()
	r.mu.RUnlock()
	assert.Equal(t, "away", string(status))

	r.Tick(context.Background())

	r.mu.RLock()
	status = r.participants["u1"].idleState.Status()
	r.mu.RUnlock()
	assert.Equal(t, "away", string(status), "Tick must not override an explicit page-hidden Away")

	r.RecordPageVisible(client)
	r.mu.RLock()
	status = r.participants["u1"].idleState.Status()
	r.mu.RUnlock()
	assert.Equal(t, "active", string(status))
}

func TestRequestGraphState_AnsweredFromMemory(t *testing.T) {
	r, _ := newTestRoom(t)
	client := newMockClient("u1", "U1", types.PermissionEdit)
	r.HandleClientConnect(client, "U1", types.PermissionEdit)

	r.RequestGraphState(client)

	frames := client.framesOfType(string(protocol.FrameGraphState))
	assert.Len(t, frames, 2) // once on connect, once on explicit request
}

func TestSaveSnapshot_PersistsThroughSink(t *testing.T) {
	r, sink := newTestRoom(t)
	client := newMockClient("u1", "U1", types.PermissionEdit)
	r.HandleClientConnect(client, "U1", types.PermissionEdit)

	table := protocol.TableSnapshot{NodeID: 1, Name: "t"}
	require.NoError(t, r.ApplyGraphOp(client, protocol.GraphOpPayload{Kind: "table", Table: &table}))

	require.NoError(t, r.SaveSnapshot(context.Background()))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 1, sink.saves)
}

func TestHydrateFromInitialSnapshot(t *testing.T) {
	sink := &mockSnapshotSink{}
	initial := &protocol.GraphStateSnapshot{
		DiagramID: "diagram-3",
		Tables: []protocol.TableSnapshot{
			{NodeID: 9, Name: "existing", Version: 4},
		},
	}
	r := NewRoom("room-3", "diagram-3", initial, &mockOracle{permission: types.PermissionEdit}, sink, nil)
	defer r.Shutdown(context.Background())

	r.mu.RLock()
	t9, ok := r.tables[9]
	next := r.nextVersion
	r.mu.RUnlock()

	require.True(t, ok)
	assert.Equal(t, "existing", t9.Name)
	assert.Equal(t, uint64(5), next, "nextVersion must continue past the hydrated max")
}
