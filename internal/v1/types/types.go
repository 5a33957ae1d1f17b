// Package types defines shared domain types and cross-package interfaces.
package types

import (
	"context"
	"errors"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/auth"
)

// --- Core Domain Types ---

// UserIDType uniquely identifies an authenticated end user.
type UserIDType string

// RoomIDType uniquely identifies one live collaboration session.
type RoomIDType string

// DiagramIDType identifies the persisted diagram a room is editing.
type DiagramIDType string

// DisplayNameType is the human-readable name shown in presence lists.
type DisplayNameType string

// Permission is the access level the Access Oracle grants a user over a diagram.
type Permission string

const (
	PermissionNone Permission = "none"
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

// CanEdit reports whether the permission allows mutating operations.
func (p Permission) CanEdit() bool {
	return p == PermissionEdit
}

// ElementKind distinguishes the two graph element families LiveShare tracks.
type ElementKind string

const (
	ElementKindTable        ElementKind = "table"
	ElementKindRelationship ElementKind = "relationship"
)

// ElementID names one versioned element inside a diagram graph.
type ElementID struct {
	Kind ElementKind `json:"kind"`
	ID   uint32      `json:"id"`
}

// ActivityStatus mirrors the presence state machine's three states.
type ActivityStatus string

const (
	ActivityActive ActivityStatus = "active"
	ActivityIdle   ActivityStatus = "idle"
	ActivityAway   ActivityStatus = "away"
)

// Timestamp is a Unix timestamp in milliseconds, used on the wire instead of
// time.Time so JSON frames stay stable across client clock skew.
type Timestamp int64

// ParticipantInfo is the public-facing snapshot of one connected user.
type ParticipantInfo struct {
	UserID      UserIDType      `json:"userId"`
	DisplayName DisplayNameType `json:"displayName"`
	Permission  Permission      `json:"permission"`
	Activity    ActivityStatus  `json:"activity"`
}

// --- Shared Interfaces ---

// TokenValidator authenticates a bearer token into verified claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// AccessOracle answers whether a user may view or edit a diagram.
// The connection handler consults it once, on join, and stores the result
// on the connection for the session; mutating operations check that stored
// permission and do not consult the oracle again.
type AccessOracle interface {
	Check(ctx context.Context, userID UserIDType, diagramID DiagramIDType) (Permission, error)
}

// SnapshotSink persists and retrieves the authoritative graph snapshot for a
// diagram, independent of any single room's lifetime.
type SnapshotSink interface {
	Save(ctx context.Context, diagramID DiagramIDType, data []byte, version uint64) error
	Latest(ctx context.Context, diagramID DiagramIDType) (data []byte, version uint64, err error)
	Cleanup(ctx context.Context, diagramID DiagramIDType, keep int) error
}

// ClientInterface is the behavior the room package needs from a connected
// participant, kept narrow so room never imports transport.
type ClientInterface interface {
	GetID() UserIDType
	GetDisplayName() DisplayNameType
	GetPermission() Permission
	SetPermission(Permission)
	SendFrame(frameType string, payload any)
	SendRaw(data []byte)
	Disconnect()
}

// Roomer is the behavior the transport layer needs from a Room, kept narrow
// so transport never reaches into room internals directly.
type Roomer interface {
	GetID() RoomIDType
	GetDiagramID() DiagramIDType
	HandleClientConnect(client ClientInterface, displayName DisplayNameType, permission Permission)
	HandleClientDisconnect(client ClientInterface)
	Dispatch(ctx context.Context, client ClientInterface, frameType string, raw []byte)
	IsEmpty() bool
	ParticipantCount() int
	Shutdown(ctx context.Context) error
}

// ErrEmptyDisplayName is returned when a join request omits a display name.
var ErrEmptyDisplayName = errors.New("display name cannot be empty")
