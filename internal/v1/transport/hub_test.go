package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/protocol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/roommanager"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func claimsFor(userID string) *auth.CustomClaims {
	return &auth.CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
}

func readErrorFrame(t *testing.T, conn *fakeConn) protocol.ErrorPayload {
	t.Helper()
	frames := waitForFrames(t, conn, 1)
	var frame protocol.Frame
	require.NoError(t, json.Unmarshal(frames[0], &frame))
	require.Equal(t, protocol.FrameError, frame.Type)
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	return payload
}

func TestHandleHandshake_RoomNotFound(t *testing.T) {
	h := &Hub{rooms: &stubDirectory{rooms: map[types.RoomIDType]types.Roomer{}}, oracle: stubOracle{permission: types.PermissionEdit}}
	conn := newFakeConn()

	h.handleHandshake(context.Background(), conn, "missing-room", claimsFor("user-1"))

	payload := readErrorFrame(t, conn)
	assert.Equal(t, protocol.ErrorCodeRoomNotFound, payload.Code)
}

func TestHandleHandshake_AccessDenied(t *testing.T) {
	room := newStubRoom("room-1", "diagram-1")
	h := &Hub{
		rooms:  &stubDirectory{rooms: map[types.RoomIDType]types.Roomer{"room-1": room}},
		oracle: stubOracle{permission: types.PermissionNone},
	}
	conn := newFakeConn()

	joinFrame, _ := json.Marshal(protocol.Frame{Type: protocol.FrameJoin})
	conn.pushText(joinFrame)

	h.handleHandshake(context.Background(), conn, "room-1", claimsFor("user-1"))

	payload := readErrorFrame(t, conn)
	assert.Equal(t, protocol.ErrorCodeAccessDenied, payload.Code)
}

func TestHandleHandshake_MalformedJoinFrame(t *testing.T) {
	room := newStubRoom("room-1", "diagram-1")
	h := &Hub{
		rooms:  &stubDirectory{rooms: map[types.RoomIDType]types.Roomer{"room-1": room}},
		oracle: stubOracle{permission: types.PermissionEdit},
	}
	conn := newFakeConn()

	wrongFrame, _ := json.Marshal(protocol.Frame{Type: protocol.FrameCursorUpdate})
	conn.pushText(wrongFrame)

	h.handleHandshake(context.Background(), conn, "room-1", claimsFor("user-1"))

	payload := readErrorFrame(t, conn)
	assert.Equal(t, protocol.ErrorCodeMalformedFrame, payload.Code)
}

func TestHandleHandshake_WrongPassword(t *testing.T) {
	room := newStubRoom("room-1", "diagram-1")
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	require.NoError(t, err)
	h := &Hub{
		rooms: &stubDirectory{
			rooms: map[types.RoomIDType]types.Roomer{"room-1": room},
			infos: map[types.RoomIDType]roommanager.RoomInfo{
				"room-1": {Config: roommanager.RoomConfig{PasswordHash: string(hash)}},
			},
		},
		oracle: stubOracle{permission: types.PermissionEdit},
	}
	conn := newFakeConn()

	payload, _ := json.Marshal(protocol.JoinPayload{DisplayName: "Ada", Password: "wrong"})
	joinFrame, _ := json.Marshal(protocol.Frame{Type: protocol.FrameJoin, Payload: payload})
	conn.pushText(joinFrame)

	h.handleHandshake(context.Background(), conn, "room-1", claimsFor("user-1"))

	errPayload := readErrorFrame(t, conn)
	assert.Equal(t, protocol.ErrorCodeWrongPassword, errPayload.Code)

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Empty(t, room.connected)
}

func TestHandleHandshake_CorrectPasswordSucceeds(t *testing.T) {
	room := newStubRoom("room-1", "diagram-1")
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	require.NoError(t, err)
	h := &Hub{
		rooms: &stubDirectory{
			rooms: map[types.RoomIDType]types.Roomer{"room-1": room},
			infos: map[types.RoomIDType]roommanager.RoomInfo{
				"room-1": {Config: roommanager.RoomConfig{PasswordHash: string(hash)}},
			},
		},
		oracle: stubOracle{permission: types.PermissionEdit},
	}
	conn := newFakeConn()

	payload, _ := json.Marshal(protocol.JoinPayload{DisplayName: "Ada", Password: "hunter2"})
	joinFrame, _ := json.Marshal(protocol.Frame{Type: protocol.FrameJoin, Payload: payload})
	conn.pushText(joinFrame)

	h.handleHandshake(context.Background(), conn, "room-1", claimsFor("user-1"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		room.mu.Lock()
		n := len(room.connected)
		room.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	require.Len(t, room.connected, 1)
	conn.Close()
}

func TestHandleHandshake_RoomFull(t *testing.T) {
	room := newStubRoom("room-1", "diagram-1")
	room.participants = 2
	h := &Hub{
		rooms: &stubDirectory{
			rooms: map[types.RoomIDType]types.Roomer{"room-1": room},
			infos: map[types.RoomIDType]roommanager.RoomInfo{
				"room-1": {Config: roommanager.RoomConfig{MaxUsers: 2}},
			},
		},
		oracle: stubOracle{permission: types.PermissionEdit},
	}
	conn := newFakeConn()

	payload, _ := json.Marshal(protocol.JoinPayload{DisplayName: "Ada"})
	joinFrame, _ := json.Marshal(protocol.Frame{Type: protocol.FrameJoin, Payload: payload})
	conn.pushText(joinFrame)

	h.handleHandshake(context.Background(), conn, "room-1", claimsFor("user-1"))

	errPayload := readErrorFrame(t, conn)
	assert.Equal(t, protocol.ErrorCodeRoomFull, errPayload.Code)

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Empty(t, room.connected)
}

func TestHandleHandshake_SuccessRegistersClientWithRoom(t *testing.T) {
	room := newStubRoom("room-1", "diagram-1")
	h := &Hub{
		rooms:  &stubDirectory{rooms: map[types.RoomIDType]types.Roomer{"room-1": room}},
		oracle: stubOracle{permission: types.PermissionEdit},
	}
	conn := newFakeConn()

	payload, _ := json.Marshal(protocol.JoinPayload{DisplayName: "Ada"})
	joinFrame, _ := json.Marshal(protocol.Frame{Type: protocol.FrameJoin, Payload: payload})
	conn.pushText(joinFrame)

	h.handleHandshake(context.Background(), conn, "room-1", claimsFor("user-1"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		room.mu.Lock()
		n := len(room.connected)
		room.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	require.Len(t, room.connected, 1)
	assert.Equal(t, types.UserIDType("user-1"), room.connected[0].GetID())

	conn.Close()
}
