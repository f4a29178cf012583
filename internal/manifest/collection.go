// Package manifest implements the Artifact Store (C2): the on-disk layout
// for a collection (manifest plus per-type artifact trees). Reads and
// writes mirror the teacher's store package discipline (write-temp, fsync,
// atomic rename) applied here to a TOML manifest instead of SQLite.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"skillmeat/internal/logging"
	"skillmeat/internal/model"
)

const manifestFileName = "collection.toml"

// TagDefinition documents one tag usable across the collection. Tag
// administration itself is out of scope (spec.md §1); this is just the
// schema slot the manifest format reserves for it.
type TagDefinition struct {
	Name        string `toml:"name"`
	Description string `toml:"description,omitempty"`
	Color       string `toml:"color,omitempty"`
}

// Group is a named, ordered set of artifact keys. Group administration is
// out of scope; this is the schema slot the manifest reserves.
type Group struct {
	Name      string   `toml:"name"`
	Artifacts []string `toml:"artifacts,omitempty"`
}

// collectionHeader is the `[collection]` table.
type collectionHeader struct {
	Name          string    `toml:"name"`
	FormatVersion int       `toml:"format_version"`
	Created       time.Time `toml:"created"`
	Updated       time.Time `toml:"updated"`
}

// onDisk mirrors the literal TOML shape of collection.toml.
type onDisk struct {
	Collection     collectionHeader  `toml:"collection"`
	Artifacts      []model.Artifact  `toml:"artifacts"`
	TagDefinitions []TagDefinition   `toml:"tag_definitions,omitempty"`
	Groups         []Group           `toml:"groups,omitempty"`
}

const CurrentFormatVersion = 1

// Collection is the fully-populated in-memory manifest.
type Collection struct {
	Root string // absolute filesystem path to the collection root

	Name          string
	FormatVersion int
	Created       time.Time
	Updated       time.Time

	Artifacts      []model.Artifact
	TagDefinitions []TagDefinition
	Groups         []Group
}

// generation counters support the §5 cache-invalidation requirement: a
// reader can compare the generation it last saw against Generation(root) to
// decide whether to re-parse.
var (
	genMu  sync.Mutex
	genCtr = make(map[string]uint64)
)

func bumpGeneration(root string) {
	genMu.Lock()
	defer genMu.Unlock()
	genCtr[root]++
}

// Generation returns the current generation counter for a collection root.
// It increments on every successful Write call for that root.
func Generation(root string) uint64 {
	genMu.Lock()
	defer genMu.Unlock()
	return genCtr[root]
}

func manifestPath(root string) string {
	return filepath.Join(root, manifestFileName)
}

// Exists is a pure filesystem check for the manifest's presence.
func Exists(root string) bool {
	_, err := os.Stat(manifestPath(root))
	return err == nil
}

// Read parses the manifest at root and returns a fully populated
// Collection. Returns a *os.PathError wrapping os.ErrNotExist when absent,
// and a parse error when malformed - callers distinguish with os.IsNotExist.
func Read(root string) (*Collection, error) {
	timer := logging.StartTimer(logging.CategoryStore, "manifest.Read")
	defer timer.Stop()

	path := manifestPath(root)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var od onDisk
	if _, err := toml.Decode(string(data), &od); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	return &Collection{
		Root:           root,
		Name:           od.Collection.Name,
		FormatVersion:  od.Collection.FormatVersion,
		Created:        od.Collection.Created,
		Updated:        od.Collection.Updated,
		Artifacts:      od.Artifacts,
		TagDefinitions: od.TagDefinitions,
		Groups:         od.Groups,
	}, nil
}

// Write serializes col to its manifest, updates Updated to the current
// time, and writes atomically (write-temp, fsync, rename) so readers never
// observe a half-written manifest.
func Write(col *Collection) error {
	timer := logging.StartTimer(logging.CategoryStore, "manifest.Write")
	defer timer.Stop()

	col.Updated = time.Now()

	od := onDisk{
		Collection: collectionHeader{
			Name:          col.Name,
			FormatVersion: col.FormatVersion,
			Created:       col.Created,
			Updated:       col.Updated,
		},
		Artifacts:      col.Artifacts,
		TagDefinitions: col.TagDefinitions,
		Groups:         col.Groups,
	}

	if err := os.MkdirAll(col.Root, 0755); err != nil {
		return fmt.Errorf("create collection root: %w", err)
	}

	tmp, err := os.CreateTemp(col.Root, ".collection-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(od); err != nil {
		tmp.Close()
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp manifest: %w", err)
	}

	if err := os.Rename(tmpPath, manifestPath(col.Root)); err != nil {
		return fmt.Errorf("rename manifest into place: %w", err)
	}

	bumpGeneration(col.Root)
	logging.Store("wrote manifest for collection %q (%d artifacts)", col.Name, len(col.Artifacts))
	return nil
}

// CreateEmpty creates a brand-new, empty collection manifest at root.
// Fails if a manifest already exists.
func CreateEmpty(root, name string) (*Collection, error) {
	if Exists(root) {
		return nil, fmt.Errorf("manifest already exists at %s", manifestPath(root))
	}
	now := time.Now()
	col := &Collection{
		Root:          root,
		Name:          name,
		FormatVersion: CurrentFormatVersion,
		Created:       now,
		Updated:       now,
	}
	if err := Write(col); err != nil {
		return nil, err
	}
	return col, nil
}

// ArtifactPath returns the absolute on-disk path of an artifact's subtree.
func (c *Collection) ArtifactPath(a model.Artifact) string {
	return filepath.Join(c.Root, filepath.FromSlash(a.Path))
}

// Find returns the artifact with the given (type, name) key, if present.
func (c *Collection) Find(key string) (model.Artifact, bool) {
	for _, a := range c.Artifacts {
		if a.Key() == key {
			return a, true
		}
	}
	return model.Artifact{}, false
}

// FindByID returns the artifact with the given stable identity, if present.
func (c *Collection) FindByID(id string) (model.Artifact, bool) {
	for _, a := range c.Artifacts {
		if a.ID == id {
			return a, true
		}
	}
	return model.Artifact{}, false
}

// Upsert inserts or replaces the artifact matching a.Key(), enforcing the
// uniqueness invariant on (collection, type, name).
func (c *Collection) Upsert(a model.Artifact) {
	for i, existing := range c.Artifacts {
		if existing.Key() == a.Key() {
			c.Artifacts[i] = a
			return
		}
	}
	c.Artifacts = append(c.Artifacts, a)
}

// Remove deletes the artifact matching key, if present.
func (c *Collection) Remove(key string) bool {
	for i, a := range c.Artifacts {
		if a.Key() == key {
			c.Artifacts = append(c.Artifacts[:i], c.Artifacts[i+1:]...)
			return true
		}
	}
	return false
}

// DefaultSubpath returns the conventional on-disk subtree path for a new
// artifact of the given type and name, matching the layout in spec.md §4.2.
func DefaultSubpath(t model.ArtifactType, name string) string {
	switch t {
	case model.TypeSkill:
		return filepath.Join("skills", name)
	case model.TypeCommand:
		return filepath.Join("commands", name+".md")
	case model.TypeAgent:
		return filepath.Join("agents", name)
	case model.TypeHook:
		return filepath.Join("hooks", name)
	case model.TypeMCPServer:
		return filepath.Join("mcp-servers", name)
	case model.TypeComposite:
		return filepath.Join("composites", name)
	default:
		return filepath.Join("artifacts", name)
	}
}
