package protocol

// TableSnapshot is the authoritative, versioned state of one diagram table.
// Columns are kept as an opaque JSON blob: LiveShare never interprets the
// schema domain model, only versions/moves/deletes it (see the room package).
type TableSnapshot struct {
	NodeID         uint32  `json:"nodeId"`
	Name           string  `json:"name"`
	PositionX      float64 `json:"positionX"`
	PositionY      float64 `json:"positionY"`
	Columns        []byte  `json:"columns"`
	Version        uint64  `json:"version"`
	LastModifiedAt int64   `json:"lastModifiedAt"`
	IsDeleted      bool    `json:"isDeleted"`
}

// RelationshipSnapshot is the authoritative, versioned state of one edge
// connecting two tables.
type RelationshipSnapshot struct {
	EdgeID         uint32 `json:"edgeId"`
	SourceNodeID   uint32 `json:"sourceNodeId"`
	TargetNodeID   uint32 `json:"targetNodeId"`
	Kind           string `json:"kind"`
	Version        uint64 `json:"version"`
	LastModifiedAt int64  `json:"lastModifiedAt"`
	IsDeleted      bool   `json:"isDeleted"`
}

// GraphStateSnapshot is the full authoritative graph for one diagram.
type GraphStateSnapshot struct {
	DiagramID     string                 `json:"diagramId"`
	Tables        []TableSnapshot        `json:"tables"`
	Relationships []RelationshipSnapshot `json:"relationships"`
	SavedAt       int64                  `json:"savedAt"`
}
