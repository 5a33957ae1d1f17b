package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/protocol"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/roommanager"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// roomDirectory is the subset of roommanager.Manager the connection
// handler needs, narrowed so this package doesn't otherwise couple to the
// manager's directory-mutation surface. GetInfo is read-only - it exposes
// the password hash and max_users a join must be checked against.
type roomDirectory interface {
	Get(roomID types.RoomIDType) (types.Roomer, bool)
	GetInfo(roomID types.RoomIDType) (roommanager.RoomInfo, bool)
}

// Hub is the WebSocket entry point: it authenticates the connecting user,
// upgrades the socket, and walks it through the AwaitingAuth handshake
// before handing it to the room it names. Room lifecycle itself belongs
// to roommanager.Manager, shared with the Control API - the Hub is just
// C9's front door, not a room directory, unlike the teacher's Hub.
type Hub struct {
	rooms     roomDirectory
	oracle    types.AccessOracle
	validator types.TokenValidator
	devMode   bool
}

// NewHub wires the connection handler to the shared room directory,
// Access Oracle, and identity verifier.
func NewHub(rooms roomDirectory, oracle types.AccessOracle, validator types.TokenValidator, devMode bool) *Hub {
	return &Hub{rooms: rooms, oracle: oracle, validator: validator, devMode: devMode}
}

// ServeWs authenticates the user and upgrades the connection, then enters
// the AwaitingAuth handshake.
func (h *Hub) ServeWs(c *gin.Context) {
	tokenResult, err := h.extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.authenticateUser(tokenResult.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	if err := validateOrigin(c.Request, allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgradeWebSocket(c, allowedOrigins, tokenResult)
	if err != nil {
		return
	}

	roomID := types.RoomIDType(c.Param("roomId"))
	h.handleHandshake(c.Request.Context(), conn, roomID, claims)
}

// handleHandshake implements the AwaitingAuth stage of C9's state machine:
// the room named in the URL must exist, the connecting user must hold at
// least View permission on its diagram, and a join frame must arrive
// within the handshake timeout. Every rejection sends a wire Error frame
// and tears down the socket without ever starting the pumps; a failed or
// timed-out read of the join frame closes the socket without one.
func (h *Hub) handleHandshake(ctx context.Context, conn wsConnection, roomID types.RoomIDType, claims *auth.CustomClaims) {
	r, ok := h.rooms.Get(roomID)
	if !ok {
		writeHandshakeError(conn, protocol.ErrorCodeRoomNotFound, "room not found")
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		logging.Warn(ctx, "handshake read failed", zap.String("roomId", string(roomID)), zap.Error(err))
		conn.Close()
		return
	}

	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != protocol.FrameJoin {
		writeHandshakeError(conn, protocol.ErrorCodeMalformedFrame, "expected join frame")
		conn.Close()
		return
	}

	var join protocol.JoinPayload
	_ = json.Unmarshal(frame.Payload, &join)

	displayName := join.DisplayName
	if displayName == "" {
		displayName = displayNameFromClaims(claims)
	}

	userID := types.UserIDType(claims.Subject)
	permission, err := h.oracle.Check(ctx, userID, r.GetDiagramID())
	if err != nil || permission == types.PermissionNone {
		writeHandshakeError(conn, protocol.ErrorCodeAccessDenied, "access denied")
		conn.Close()
		return
	}

	if info, ok := h.rooms.GetInfo(roomID); ok {
		if info.Config.PasswordHash != "" {
			if err := bcrypt.CompareHashAndPassword([]byte(info.Config.PasswordHash), []byte(join.Password)); err != nil {
				writeHandshakeError(conn, protocol.ErrorCodeWrongPassword, "wrong password")
				conn.Close()
				return
			}
		}
		if info.Config.MaxUsers > 0 && r.ParticipantCount() >= info.Config.MaxUsers {
			writeHandshakeError(conn, protocol.ErrorCodeRoomFull, "room is full")
			conn.Close()
			return
		}
	}

	client := newClient(conn, r, userID, types.DisplayNameType(displayName))
	client.setAuthed()

	go client.writePump()
	go client.readPump()

	metrics.IncConnection()

	client.SendFrame(string(protocol.FrameJoinResult), protocol.JoinResultPayload{
		Success:    true,
		UserID:     string(userID),
		Permission: string(permission),
	})
	r.HandleClientConnect(client, types.DisplayNameType(displayName), permission)
}

// writeHandshakeError best-effort writes a terminal Error frame before a
// handshake-stage close; the client may already be gone, so a write
// failure here is not fatal to the shutdown itself.
func writeHandshakeError(conn wsConnection, code protocol.ErrorCode, message string) {
	frame, err := protocol.Encode(protocol.FrameError, protocol.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
