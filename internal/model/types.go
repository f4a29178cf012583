// Package model defines the shared data types of the synchronization
// engine's data model: artifacts, version records, composite membership,
// deployment records, snapshots and conflict descriptors.
package model

import "time"

// ArtifactType tags the kind of AI-assistant artifact. The set is closed;
// every operation that branches on it must do so exhaustively rather than
// through virtual dispatch (per the "Dynamic dispatch on artifact origin"
// design note, which applies equally to artifact type).
type ArtifactType string

const (
	TypeSkill     ArtifactType = "skill"
	TypeCommand   ArtifactType = "command"
	TypeAgent     ArtifactType = "agent"
	TypeHook      ArtifactType = "hook"
	TypeMCPServer ArtifactType = "mcp-server"
	TypeComposite ArtifactType = "composite"
)

// OriginKind is a closed tagged variant over where an artifact came from.
type OriginKind string

const (
	OriginLocal        OriginKind = "local"
	OriginRemoteRepo   OriginKind = "remote-repo"
	OriginMarketplace  OriginKind = "marketplace"
)

// Origin carries the OriginKind tag plus the locator that kind requires.
// Exactly one of Locator/SourceID is meaningful, selected by Kind.
type Origin struct {
	Kind     OriginKind `toml:"kind"`
	Locator  string     `toml:"locator,omitempty"`   // remote-repo: clone URL or host/org/repo
	SourceID string     `toml:"source_id,omitempty"` // marketplace: catalog entry id
}

// RefreshPolicy controls whether C10 applies upstream metadata changes
// automatically for a given artifact.
type RefreshPolicy string

const (
	RefreshAuto     RefreshPolicy = "auto"
	RefreshManual   RefreshPolicy = "manual"
	RefreshDisabled RefreshPolicy = "disabled"
)

// Descriptor holds the free-form metadata parsed from an artifact's
// metadata header (the header parser itself is an external collaborator;
// this struct is the contract the core consumes).
type Descriptor struct {
	Title         string        `toml:"title,omitempty"`
	Description   string        `toml:"description,omitempty"`
	Author        string        `toml:"author,omitempty"`
	License       string        `toml:"license,omitempty"`
	Version       string        `toml:"version,omitempty"`
	Dependencies  []string      `toml:"dependencies,omitempty"`
	RefreshPolicy RefreshPolicy `toml:"refresh_policy,omitempty"`
}

// Artifact is the collection-level record for one managed artifact.
type Artifact struct {
	// ID is the stable 128-bit identity assigned at import time. Immutable
	// once set; edges that must survive renames (composite membership)
	// reference this, never the (Type, Name) compound key.
	ID   string       `toml:"id"`
	Type ArtifactType `toml:"type"`
	Name string       `toml:"name"`

	// Path is the artifact's subtree location relative to the collection
	// root (e.g. "skills/foo").
	Path string `toml:"path"`

	ContentHash string `toml:"content_hash"`
	Size        int64  `toml:"size,omitempty"`
	FileCount   int    `toml:"file_count,omitempty"`

	Origin Origin `toml:"origin"`

	VersionSpec    string   `toml:"version_spec,omitempty"`
	ResolvedSHA    string   `toml:"resolved_sha,omitempty"`
	ResolvedVer    string   `toml:"resolved_version,omitempty"`
	Tags           []string `toml:"tags,omitempty"`
	Descriptor     Descriptor `toml:"metadata"`
	Added          time.Time  `toml:"added"`
}

// Key renders the compound (type, name) identity used throughout the spec
// as "type:name".
func (a Artifact) Key() string {
	return string(a.Type) + ":" + a.Name
}

// ChangeOrigin attributes a version record to the event that produced it.
type ChangeOrigin string

const (
	ChangeDeployment       ChangeOrigin = "deployment"
	ChangeSync             ChangeOrigin = "sync"
	ChangeLocalModification ChangeOrigin = "local-modification"
)

// VersionRecord is one node in an artifact's content-addressed DAG.
type VersionRecord struct {
	ArtifactID   string
	ContentHash  string
	ParentHash   string // empty for roots
	ChangeOrigin ChangeOrigin
	CreatedAt    time.Time
	// Lineage holds the hashes on the path from this node back to the
	// root, inclusive, most-recent first. Advisory: parent-hash links are
	// authoritative, lineage is a denormalized convenience.
	Lineage []string
}

// MembershipRelationship describes how a child participates in a composite.
type MembershipRelationship string

const (
	RelationIncludes  MembershipRelationship = "includes"
	RelationDependsOn MembershipRelationship = "depends-on"
)

// Membership is one edge from a composite artifact to a child artifact.
type Membership struct {
	CompositeID  string
	ChildID      string
	Relationship MembershipRelationship
	PinnedHash   string // optional
	Position     *int   // optional ordering hint
}

// SyncStatus tags a deployment's relationship to its baseline.
type SyncStatus string

const (
	SyncStatusSynced           SyncStatus = "synced"
	SyncStatusLocallyModified  SyncStatus = "locally-modified"
	SyncStatusConflicted       SyncStatus = "conflicted"
)

// DeploymentRecord is one project's record of one deployed artifact.
type DeploymentRecord struct {
	Name             string       `toml:"name"`
	ArtifactType     ArtifactType `toml:"artifact_type"`
	Source           string       `toml:"source"`
	Version          string       `toml:"version,omitempty"`
	SHA              string       `toml:"sha"`
	ContentHash      string       `toml:"content_hash"`
	DeployedAt       time.Time    `toml:"deployed_at"`
	DeployedFrom     string       `toml:"deployed_from"`
	VersionLineage   []string     `toml:"version_lineage,omitempty"`
	SyncStatus       SyncStatus   `toml:"sync_status"`
	PendingConflicts []string     `toml:"pending_conflicts,omitempty"`

	// ConflictBaseHash/ConflictCollectionHash/ConflictProjectHash pin the
	// three blobstore-addressable hashes a pending conflict was raised
	// from, so a later ResolveConflict call - possibly in a different
	// process - can re-derive the exact same ConflictDescriptor instead of
	// re-diffing against whatever the collection or project tree have
	// drifted to in the meantime. Populated only while SyncStatus is
	// conflicted; cleared on resolution.
	ConflictBaseHash       string `toml:"conflict_base_hash,omitempty"`
	ConflictCollectionHash string `toml:"conflict_collection_hash,omitempty"`
	ConflictProjectHash    string `toml:"conflict_project_hash,omitempty"`
}

// Key renders the compound (type, name) identity, mirroring Artifact.Key.
func (d DeploymentRecord) Key() string {
	return string(d.ArtifactType) + ":" + d.Name
}

// SnapshotManifest is the sidecar manifest stored alongside a snapshot
// archive.
type SnapshotManifest struct {
	SnapshotID     string    `toml:"snapshot_id"`
	CollectionName string    `toml:"collection_name"`
	Message        string    `toml:"message"`
	Created        time.Time `toml:"created"`
	ArtifactCount  int       `toml:"artifact_count"`
	TotalBytes     int64     `toml:"total_bytes,omitempty"`
}

// ConflictKind classifies why a file could not be auto-merged.
type ConflictKind string

const (
	ConflictContent     ConflictKind = "content"
	ConflictDeletion    ConflictKind = "deletion"
	ConflictBothModified ConflictKind = "both-modified"
	ConflictAddAdd      ConflictKind = "add-add"
)

// Resolution is a recommended or chosen strategy for resolving a conflict.
type Resolution string

const (
	ResolveUseLocal  Resolution = "use-local"
	ResolveUseRemote Resolution = "use-remote"
	ResolveUseBase   Resolution = "use-base"
	ResolveManual    Resolution = "manual"
	ResolveMerge     Resolution = "merge"
)

// ConflictDescriptor describes one file that a three-way diff could not
// auto-merge.
type ConflictDescriptor struct {
	Path              string
	Kind              ConflictKind
	BaseContent       []byte
	LocalContent      []byte
	RemoteContent     []byte
	HasBaseContent    bool
	HasLocalContent   bool
	HasRemoteContent  bool
	AutoMergeable     bool
	Recommended       Resolution
	NeverAutoMerge    bool // true for binary conflicts
}
