// Package versiongraph implements the Version Graph (C3): a content-hash
// addressed, append-only, deduplicating DAG of an artifact's history, plus
// composite-membership edges. Backed by the embedded relational store so
// record/query operations are indexed and survive process restarts.
package versiongraph

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"skillmeat/internal/errs"
	"skillmeat/internal/logging"
	"skillmeat/internal/model"
	"skillmeat/internal/store"
)

// Graph is a handle onto the version graph backed by an open store.
type Graph struct {
	st *store.Store
}

// New wraps an already-open Store.
func New(st *store.Store) *Graph {
	return &Graph{st: st}
}

// latestHash returns the content hash of the artifact's most recently
// created version record, or "" when none is recorded.
func (g *Graph) latestHash(artifactID string) (string, error) {
	row := g.st.DB().QueryRow(
		`SELECT content_hash FROM version_records WHERE artifact_id = ? ORDER BY created_at DESC LIMIT 1`,
		artifactID,
	)
	var hash string
	if err := row.Scan(&hash); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("query latest version: %w", err)
	}
	return hash, nil
}

// record is the shared insert path for RecordDeployment/RecordSync/
// RecordLocalModification: it deduplicates on (artifact_id, content_hash)
// so re-recording an unchanged hash is a no-op, per spec.md §4.3's
// "deduplicating" invariant.
func (g *Graph) record(artifactID, contentHash string, origin model.ChangeOrigin) (model.VersionRecord, error) {
	timer := logging.StartTimer(logging.CategoryVersionGraph, "record:"+string(origin))
	defer timer.Stop()

	var existingOrigin string
	err := g.st.DB().QueryRow(
		`SELECT change_origin FROM version_records WHERE artifact_id = ? AND content_hash = ?`,
		artifactID, contentHash,
	).Scan(&existingOrigin)
	if err == nil {
		// Already recorded at this content hash: return the existing node
		// rather than inserting a duplicate.
		return g.getRecord(artifactID, contentHash)
	}
	if err != sql.ErrNoRows {
		return model.VersionRecord{}, errs.ForArtifact(errs.IOError, artifactID, "query existing version record", err)
	}

	parentHash, err := g.latestHash(artifactID)
	if err != nil {
		return model.VersionRecord{}, errs.ForArtifact(errs.IOError, artifactID, "query latest version", err)
	}

	lineage := []string{contentHash}
	if parentHash != "" {
		parentLineage, err := g.lineageOf(artifactID, parentHash)
		if err != nil {
			return model.VersionRecord{}, err
		}
		lineage = append(lineage, parentLineage...)
	}

	rec := model.VersionRecord{
		ArtifactID:   artifactID,
		ContentHash:  contentHash,
		ParentHash:   parentHash,
		ChangeOrigin: origin,
		CreatedAt:    time.Now(),
		Lineage:      lineage,
	}

	if _, err := g.st.DB().Exec(
		`INSERT INTO version_records (artifact_id, content_hash, parent_hash, change_origin, created_at, lineage)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ArtifactID, rec.ContentHash, rec.ParentHash, string(rec.ChangeOrigin), rec.CreatedAt, strings.Join(rec.Lineage, ","),
	); err != nil {
		return model.VersionRecord{}, errs.ForArtifact(errs.IOError, artifactID, "insert version record", err)
	}

	return rec, nil
}

func (g *Graph) lineageOf(artifactID, contentHash string) ([]string, error) {
	rec, err := g.getRecord(artifactID, contentHash)
	if err != nil {
		return nil, err
	}
	return rec.Lineage, nil
}

func (g *Graph) getRecord(artifactID, contentHash string) (model.VersionRecord, error) {
	var rec model.VersionRecord
	var origin, lineage string
	row := g.st.DB().QueryRow(
		`SELECT artifact_id, content_hash, parent_hash, change_origin, created_at, lineage
		 FROM version_records WHERE artifact_id = ? AND content_hash = ?`,
		artifactID, contentHash,
	)
	if err := row.Scan(&rec.ArtifactID, &rec.ContentHash, &rec.ParentHash, &origin, &rec.CreatedAt, &lineage); err != nil {
		if err == sql.ErrNoRows {
			return model.VersionRecord{}, errs.ForArtifact(errs.NotFound, artifactID, "version record not found", err)
		}
		return model.VersionRecord{}, errs.ForArtifact(errs.IOError, artifactID, "query version record", err)
	}
	rec.ChangeOrigin = model.ChangeOrigin(origin)
	if lineage != "" {
		rec.Lineage = strings.Split(lineage, ",")
	}
	return rec, nil
}

// RecordDeployment records a version node produced by deploying an
// artifact into a project.
func (g *Graph) RecordDeployment(artifactID, contentHash string) (model.VersionRecord, error) {
	return g.record(artifactID, contentHash, model.ChangeDeployment)
}

// RecordSync records a version node produced by a pull/push sync.
func (g *Graph) RecordSync(artifactID, contentHash string) (model.VersionRecord, error) {
	return g.record(artifactID, contentHash, model.ChangeSync)
}

// RecordLocalModification records a version node produced by editing a
// deployed artifact directly in a project.
func (g *Graph) RecordLocalModification(artifactID, contentHash string) (model.VersionRecord, error) {
	return g.record(artifactID, contentHash, model.ChangeLocalModification)
}

// Latest returns the most recently recorded version of an artifact.
func (g *Graph) Latest(artifactID string) (model.VersionRecord, error) {
	hash, err := g.latestHash(artifactID)
	if err != nil {
		return model.VersionRecord{}, errs.ForArtifact(errs.IOError, artifactID, "query latest version", err)
	}
	if hash == "" {
		return model.VersionRecord{}, errs.ForArtifact(errs.NotFound, artifactID, "no version recorded", nil)
	}
	return g.getRecord(artifactID, hash)
}

// History returns every recorded version of an artifact, most recent
// first.
func (g *Graph) History(artifactID string) ([]model.VersionRecord, error) {
	rows, err := g.st.DB().Query(
		`SELECT artifact_id, content_hash, parent_hash, change_origin, created_at, lineage
		 FROM version_records WHERE artifact_id = ? ORDER BY created_at DESC`,
		artifactID,
	)
	if err != nil {
		return nil, errs.ForArtifact(errs.IOError, artifactID, "query history", err)
	}
	defer rows.Close()

	var out []model.VersionRecord
	for rows.Next() {
		var rec model.VersionRecord
		var origin, lineage string
		if err := rows.Scan(&rec.ArtifactID, &rec.ContentHash, &rec.ParentHash, &origin, &rec.CreatedAt, &lineage); err != nil {
			return nil, errs.ForArtifact(errs.IOError, artifactID, "scan history row", err)
		}
		rec.ChangeOrigin = model.ChangeOrigin(origin)
		if lineage != "" {
			rec.Lineage = strings.Split(lineage, ",")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AddMembership inserts a composite-membership edge after rejecting any
// edge that would introduce a cycle - the composite-membership cycle
// guard supplemented in SPEC_FULL.md §9.
func (g *Graph) AddMembership(m model.Membership) error {
	would, err := g.WouldCycle(m.CompositeID, m.ChildID)
	if err != nil {
		return err
	}
	if would {
		return errs.New(errs.ConstraintViolation, fmt.Sprintf("adding %s as a child of %s would create a membership cycle", m.ChildID, m.CompositeID), nil)
	}

	var position sql.NullInt64
	if m.Position != nil {
		position = sql.NullInt64{Int64: int64(*m.Position), Valid: true}
	}
	_, err = g.st.DB().Exec(
		`INSERT INTO memberships (composite_id, child_id, relationship, pinned_hash, position)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(composite_id, child_id) DO UPDATE SET
		   relationship = excluded.relationship,
		   pinned_hash = excluded.pinned_hash,
		   position = excluded.position`,
		m.CompositeID, m.ChildID, string(m.Relationship), m.PinnedHash, position,
	)
	if err != nil {
		return errs.New(errs.IOError, "insert membership", err)
	}
	return nil
}

// RemoveMembership deletes a composite-membership edge.
func (g *Graph) RemoveMembership(compositeID, childID string) error {
	_, err := g.st.DB().Exec(`DELETE FROM memberships WHERE composite_id = ? AND child_id = ?`, compositeID, childID)
	if err != nil {
		return errs.New(errs.IOError, "delete membership", err)
	}
	return nil
}

// Children returns the direct membership edges of a composite artifact.
func (g *Graph) Children(compositeID string) ([]model.Membership, error) {
	rows, err := g.st.DB().Query(
		`SELECT composite_id, child_id, relationship, pinned_hash, position
		 FROM memberships WHERE composite_id = ? ORDER BY position`,
		compositeID,
	)
	if err != nil {
		return nil, errs.New(errs.IOError, "query children", err)
	}
	defer rows.Close()

	var out []model.Membership
	for rows.Next() {
		var m model.Membership
		var relationship string
		var pinned string
		var position sql.NullInt64
		if err := rows.Scan(&m.CompositeID, &m.ChildID, &relationship, &pinned, &position); err != nil {
			return nil, errs.New(errs.IOError, "scan membership row", err)
		}
		m.Relationship = model.MembershipRelationship(relationship)
		m.PinnedHash = pinned
		if position.Valid {
			p := int(position.Int64)
			m.Position = &p
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// WouldCycle reports whether adding childID as a child of compositeID would
// create a cycle, by walking compositeID's ancestor chain (every composite
// that directly or transitively includes it) looking for childID.
func (g *Graph) WouldCycle(compositeID, childID string) (bool, error) {
	if compositeID == childID {
		return true, nil
	}

	visited := map[string]bool{compositeID: true}
	frontier := []string{compositeID}

	for len(frontier) > 0 {
		var next []string
		for _, node := range frontier {
			parents, err := g.parentsOf(node)
			if err != nil {
				return false, err
			}
			for _, p := range parents {
				if p == childID {
					return true, nil
				}
				if !visited[p] {
					visited[p] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return false, nil
}

// parentsOf returns every composite that directly includes node as a child.
func (g *Graph) parentsOf(node string) ([]string, error) {
	rows, err := g.st.DB().Query(`SELECT composite_id FROM memberships WHERE child_id = ?`, node)
	if err != nil {
		return nil, errs.New(errs.IOError, "query parents", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.New(errs.IOError, "scan parent row", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
