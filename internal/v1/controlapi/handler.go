// Package controlapi implements the synchronous REST surface for room
// CRUD (C10): create, inspect, update, and delete a room. It is orthogonal
// to the streaming connection handler but shares the same room directory,
// so a room created here is immediately joinable over the WebSocket, and
// a room ended over the WebSocket immediately 404s here.
package controlapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/roommanager"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// roomDirectory is the subset of roommanager.Manager the Control API needs,
// narrowed the same way transport.Hub narrows it to its own read-only Get.
type roomDirectory interface {
	Create(ctx context.Context, roomID types.RoomIDType, diagramID types.DiagramIDType, owner types.UserIDType, cfg roommanager.RoomConfig) (types.Roomer, error)
	GetInfo(roomID types.RoomIDType) (roommanager.RoomInfo, bool)
	Update(ctx context.Context, roomID types.RoomIDType, requester types.UserIDType, patch roommanager.RoomConfig) (roommanager.RoomInfo, error)
	Delete(ctx context.Context, roomID types.RoomIDType, requester types.UserIDType) error
}

// Handler serves the /room/:roomId CRUD endpoints.
type Handler struct {
	rooms     roomDirectory
	validator types.TokenValidator
}

// NewHandler wires the Control API to the shared room directory and the
// same identity verifier the streaming path uses, so a bearer token means
// the same thing on both surfaces.
func NewHandler(rooms roomDirectory, validator types.TokenValidator) *Handler {
	return &Handler{rooms: rooms, validator: validator}
}

// RegisterRoutes mounts the Control API under the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.Use(h.AuthMiddleware())
	rg.POST("/room/:roomId", h.CreateRoom)
	rg.GET("/room/:roomId", h.GetRoom)
	rg.PATCH("/room/:roomId", h.UpdateRoom)
	rg.DELETE("/room/:roomId", h.DeleteRoom)
}

// AuthMiddleware requires a bearer token and stores the validated claims
// under "claims" for requesterID to read.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := h.validator.ValidateToken(header[len(prefix):])
		if err != nil {
			logging.Warn(c.Request.Context(), "control API: token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

func (h *Handler) requesterID(c *gin.Context) types.UserIDType {
	claims := c.MustGet("claims").(*auth.CustomClaims)
	return types.UserIDType(claims.Subject)
}

// CreateRoomRequest is the POST /room/:roomId payload.
type CreateRoomRequest struct {
	DiagramID types.DiagramIDType `json:"diagram_id" binding:"required"`
	Name      string              `json:"name"`
	Password  string              `json:"password,omitempty"`
	MaxUsers  int                 `json:"max_users"`
}

// RoomResponse is the JSON view of a room returned by every Control API
// endpoint; IsProtected reports whether a password is set without ever
// echoing the hash back to the client.
type RoomResponse struct {
	RoomID      types.RoomIDType    `json:"room_id"`
	DiagramID   types.DiagramIDType `json:"diagram_id"`
	Owner       types.UserIDType    `json:"owner"`
	Name        string              `json:"name"`
	MaxUsers    int                 `json:"max_users"`
	IsProtected bool                `json:"is_protected"`
	IsEmpty     bool                `json:"is_empty"`
}

func toRoomResponse(roomID types.RoomIDType, info roommanager.RoomInfo) RoomResponse {
	return RoomResponse{
		RoomID:      roomID,
		DiagramID:   info.DiagramID,
		Owner:       info.Owner,
		Name:        info.Config.Name,
		MaxUsers:    info.Config.MaxUsers,
		IsProtected: info.IsProtected,
		IsEmpty:     info.IsEmpty,
	}
}

// CreateRoom handles POST /room/:roomId.
func (h *Handler) CreateRoom(c *gin.Context) {
	roomID := types.RoomIDType(c.Param("roomId"))

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request: " + err.Error()})
		return
	}

	cfg := roommanager.RoomConfig{Name: req.Name, MaxUsers: req.MaxUsers}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
			return
		}
		cfg.PasswordHash = string(hash)
	}

	owner := h.requesterID(c)
	_, err := h.rooms.Create(c.Request.Context(), roomID, req.DiagramID, owner, cfg)
	if err != nil {
		switch {
		case errors.Is(err, roommanager.ErrRoomExists), errors.Is(err, roommanager.ErrActiveSessionExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		}
		return
	}

	info, _ := h.rooms.GetInfo(roomID)
	c.JSON(http.StatusCreated, toRoomResponse(roomID, info))
}

// GetRoom handles GET /room/:roomId.
func (h *Handler) GetRoom(c *gin.Context) {
	roomID := types.RoomIDType(c.Param("roomId"))

	info, ok := h.rooms.GetInfo(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	c.JSON(http.StatusOK, toRoomResponse(roomID, info))
}

// UpdateRoomRequest is the PATCH /room/:roomId payload; zero-valued fields
// leave the corresponding config value unchanged.
type UpdateRoomRequest struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
	MaxUsers int    `json:"max_users"`
}

// UpdateRoom handles PATCH /room/:roomId.
func (h *Handler) UpdateRoom(c *gin.Context) {
	roomID := types.RoomIDType(c.Param("roomId"))

	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request: " + err.Error()})
		return
	}

	patch := roommanager.RoomConfig{Name: req.Name, MaxUsers: req.MaxUsers}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
			return
		}
		patch.PasswordHash = string(hash)
	}

	requester := h.requesterID(c)
	info, err := h.rooms.Update(c.Request.Context(), roomID, requester, patch)
	if err != nil {
		switch {
		case errors.Is(err, roommanager.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, roommanager.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update room"})
		}
		return
	}

	c.JSON(http.StatusOK, toRoomResponse(roomID, info))
}

// DeleteRoom handles DELETE /room/:roomId.
func (h *Handler) DeleteRoom(c *gin.Context) {
	roomID := types.RoomIDType(c.Param("roomId"))

	if _, ok := h.rooms.GetInfo(roomID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	requester := h.requesterID(c)
	if err := h.rooms.Delete(c.Request.Context(), roomID, requester); err != nil {
		if errors.Is(err, roommanager.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete room"})
		return
	}

	c.Status(http.StatusNoContent)
}
