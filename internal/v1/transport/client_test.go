package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/protocol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForFrames(t *testing.T, conn *fakeConn, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := conn.writtenFrames(); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.FailNow(t, "timed out waiting for written frames")
	return nil
}

func TestClient_SendFrame_RoundTrip(t *testing.T) {
	conn := newFakeConn()
	room := newStubRoom("room-1", "diagram-1")
	client := newClient(conn, room, "user-1", "Ada")
	client.setAuthed()

	go client.writePump()
	defer client.Disconnect()

	client.SendFrame(string(protocol.FrameGraphState), protocol.GraphStatePayload{})

	frames := waitForFrames(t, conn, 1)
	var frame protocol.Frame
	require.NoError(t, json.Unmarshal(frames[0], &frame))
	assert.Equal(t, protocol.FrameGraphState, frame.Type)
}

func TestClient_GetSetPermission(t *testing.T) {
	conn := newFakeConn()
	room := newStubRoom("room-1", "diagram-1")
	client := newClient(conn, room, "user-1", "Ada")

	assert.Equal(t, types.PermissionNone, client.GetPermission())
	client.SetPermission(types.PermissionEdit)
	assert.Equal(t, types.PermissionEdit, client.GetPermission())
}

func TestClient_Disconnect_IsIdempotent(t *testing.T) {
	conn := newFakeConn()
	room := newStubRoom("room-1", "diagram-1")
	client := newClient(conn, room, "user-1", "Ada")

	client.Disconnect()
	client.Disconnect()

	assert.True(t, client.isClosed())
}

func TestClient_Enqueue_OverflowClosesConnection(t *testing.T) {
	conn := newFakeConn()
	room := newStubRoom("room-1", "diagram-1")
	client := newClient(conn, room, "user-1", "Ada")
	client.setAuthed()

	// Fill the normal channel without a writePump draining it.
	for i := 0; i < outboundBuffer+1; i++ {
		client.SendFrame(string(protocol.FrameCursorBroadcast), protocol.CursorBroadcastPayload{})
	}

	assert.True(t, client.isClosed(), "a full outbound channel must close the connection")
}

func TestReadPump_DispatchesFrameToRoom(t *testing.T) {
	conn := newFakeConn()
	room := newStubRoom("room-1", "diagram-1")
	client := newClient(conn, room, "user-1", "Ada")
	client.setAuthed()

	go client.readPump()

	payload, _ := json.Marshal(protocol.CursorUpdatePayload{X: 1, Y: 2})
	frame, _ := json.Marshal(protocol.Frame{Type: protocol.FrameCursorUpdate, Payload: payload})
	conn.pushText(frame)

	select {
	case <-room.dispatchedSignal:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "room never received dispatched frame")
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	require.Len(t, room.dispatched, 1)
	assert.Equal(t, string(protocol.FrameCursorUpdate), room.dispatched[0].frameType)

	conn.Close()
}

func TestReadPump_PingAnsweredWithPong(t *testing.T) {
	conn := newFakeConn()
	room := newStubRoom("room-1", "diagram-1")
	client := newClient(conn, room, "user-1", "Ada")
	client.setAuthed()

	go client.writePump()
	go client.readPump()
	defer client.Disconnect()

	frame, _ := json.Marshal(protocol.Frame{Type: protocol.FramePing})
	conn.pushText(frame)

	frames := waitForFrames(t, conn, 1)
	var decoded protocol.Frame
	require.NoError(t, json.Unmarshal(frames[0], &decoded))
	assert.Equal(t, protocol.FramePong, decoded.Type)
}

func TestReadPump_NotifiesRoomOnDisconnect(t *testing.T) {
	conn := newFakeConn()
	room := newStubRoom("room-1", "diagram-1")
	client := newClient(conn, room, "user-1", "Ada")
	client.setAuthed()

	done := make(chan struct{})
	go func() {
		client.readPump()
		close(done)
	}()

	conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "readPump never returned after connection close")
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	require.Len(t, room.disconnected, 1)
}

func TestReadPump_RateLimitedVolatileFrameDroppedSilently(t *testing.T) {
	conn := newFakeConn()
	room := newStubRoom("room-1", "diagram-1")
	client := newClient(conn, room, "user-1", "Ada")
	client.setAuthed()

	go client.readPump()
	defer conn.Close()

	payload, _ := json.Marshal(protocol.CursorUpdatePayload{X: 1, Y: 2})
	frame, _ := json.Marshal(protocol.Frame{Type: protocol.FrameCursorUpdate, Payload: payload})

	// The volatile bucket holds 120 tokens; send well past that so later
	// frames must be denied.
	for i := 0; i < 150; i++ {
		conn.pushText(frame)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		room.mu.Lock()
		n := len(room.dispatched)
		room.mu.Unlock()
		if n >= 120 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	room.mu.Lock()
	dispatched := len(room.dispatched)
	room.mu.Unlock()
	assert.LessOrEqual(t, dispatched, 120, "volatile frames beyond the bucket capacity must be shed")

	// No error frame should have been sent back for shed volatile traffic.
	assert.Empty(t, conn.writtenFrames())
	assert.Empty(t, client.prioritySend)
}

func TestReadPump_RateLimitedCriticalFrameGetsErrorFrame(t *testing.T) {
	conn := newFakeConn()
	room := newStubRoom("room-1", "diagram-1")
	client := newClient(conn, room, "user-1", "Ada")
	client.setAuthed()

	go client.writePump()
	go client.readPump()
	defer client.Disconnect()

	frame, _ := json.Marshal(protocol.Frame{Type: protocol.FrameRequestGraphState})

	// The critical bucket holds 20 tokens; send past that to trip denial.
	for i := 0; i < 25; i++ {
		conn.pushText(frame)
	}

	frames := waitForFrames(t, conn, 1)
	var decoded protocol.Frame
	require.NoError(t, json.Unmarshal(frames[0], &decoded))
	assert.Equal(t, protocol.FrameError, decoded.Type)
	var errPayload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &errPayload))
	assert.Equal(t, protocol.ErrorCodeRateLimited, errPayload.Code)
}
