package versiongraph

import (
	"path/filepath"
	"testing"

	"skillmeat/internal/errs"
	"skillmeat/internal/model"
	"skillmeat/internal/store"
)

func newGraph(t *testing.T) *Graph {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "skillmeat.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestRecordDeduplicatesSameHash(t *testing.T) {
	g := newGraph(t)

	r1, err := g.RecordSync("artifact-1", "hash-a")
	if err != nil {
		t.Fatalf("RecordSync: %v", err)
	}
	r2, err := g.RecordSync("artifact-1", "hash-a")
	if err != nil {
		t.Fatalf("RecordSync (dup): %v", err)
	}
	if !r1.CreatedAt.Equal(r2.CreatedAt) {
		t.Error("expected re-recording the same hash to return the existing node, not insert a new one")
	}

	history, err := g.History("artifact-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one version recorded, got %d", len(history))
	}
}

func TestRecordBuildsParentChainAndLineage(t *testing.T) {
	g := newGraph(t)

	r1, err := g.RecordDeployment("a1", "h1")
	if err != nil {
		t.Fatalf("RecordDeployment: %v", err)
	}
	if len(r1.Lineage) != 1 || r1.Lineage[0] != "h1" {
		t.Errorf("expected root lineage [h1], got %v", r1.Lineage)
	}
	if _, err := g.RecordSync("a1", "h2"); err != nil {
		t.Fatalf("RecordSync: %v", err)
	}
	r3, err := g.RecordLocalModification("a1", "h3")
	if err != nil {
		t.Fatalf("RecordLocalModification: %v", err)
	}

	if r3.ParentHash != "h2" {
		t.Errorf("expected parent h2, got %q", r3.ParentHash)
	}
	if len(r3.Lineage) != 3 || r3.Lineage[0] != "h3" || r3.Lineage[1] != "h2" || r3.Lineage[2] != "h1" {
		t.Errorf("expected lineage [h3 h2 h1], got %v", r3.Lineage)
	}

	latest, err := g.Latest("a1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ContentHash != "h3" {
		t.Errorf("expected latest hash h3, got %q", latest.ContentHash)
	}
}

func TestLatestOnUnknownArtifactIsNotFound(t *testing.T) {
	g := newGraph(t)
	if _, err := g.Latest("nope"); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestMembershipCycleGuard(t *testing.T) {
	g := newGraph(t)

	if err := g.AddMembership(model.Membership{CompositeID: "top", ChildID: "mid", Relationship: model.RelationIncludes}); err != nil {
		t.Fatalf("AddMembership top->mid: %v", err)
	}
	if err := g.AddMembership(model.Membership{CompositeID: "mid", ChildID: "leaf", Relationship: model.RelationIncludes}); err != nil {
		t.Fatalf("AddMembership mid->leaf: %v", err)
	}

	// leaf -> top would close the cycle top -> mid -> leaf -> top.
	err := g.AddMembership(model.Membership{CompositeID: "leaf", ChildID: "top", Relationship: model.RelationIncludes})
	if errs.KindOf(err) != errs.ConstraintViolation {
		t.Fatalf("expected constraint-violation for cyclic membership, got %v", err)
	}

	children, err := g.Children("top")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 1 || children[0].ChildID != "mid" {
		t.Errorf("expected top's children unaffected by rejected edge, got %v", children)
	}
}

func TestRemoveMembership(t *testing.T) {
	g := newGraph(t)
	if err := g.AddMembership(model.Membership{CompositeID: "top", ChildID: "mid", Relationship: model.RelationDependsOn}); err != nil {
		t.Fatalf("AddMembership: %v", err)
	}
	if err := g.RemoveMembership("top", "mid"); err != nil {
		t.Fatalf("RemoveMembership: %v", err)
	}
	children, err := g.Children("top")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("expected no children after removal, got %d", len(children))
	}
}
