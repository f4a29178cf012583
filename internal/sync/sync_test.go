package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"skillmeat/internal/drift"
	"skillmeat/internal/ledger"
	"skillmeat/internal/manifest"
	"skillmeat/internal/model"
	"skillmeat/internal/store"
	"skillmeat/internal/versiongraph"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionResetter"),
	)
}

// testFixture wires a Coordinator against a throwaway collection with one
// skill artifact, ready for a project root the caller supplies separately.
type testFixture struct {
	coord          *Coordinator
	collectionRoot string
	artifact       model.Artifact
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	collectionRoot := t.TempDir()
	col, err := manifest.CreateEmpty(collectionRoot, "test-collection")
	require.NoError(t, err)

	artifactDir := filepath.Join(collectionRoot, "skills", "foo")
	require.NoError(t, os.MkdirAll(artifactDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(artifactDir, "SKILL.md"), []byte("# foo v1\n"), 0644))

	hash := mustHashTree(t, artifactDir)
	artifact := model.Artifact{
		ID:          uuid.NewString(),
		Type:        model.TypeSkill,
		Name:        "foo",
		Path:        "skills/foo",
		ContentHash: hash,
		Origin:      model.Origin{Kind: model.OriginLocal},
		Added:       time.Now(),
	}
	col.Upsert(artifact)
	require.NoError(t, manifest.Write(col))

	st, err := store.Open(filepath.Join(collectionRoot, "skillmeat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	graph := versiongraph.New(st)
	coord := New(collectionRoot, "test-collection", filepath.Join(collectionRoot, "snapshots"), graph, nil)

	return &testFixture{coord: coord, collectionRoot: collectionRoot, artifact: artifact}
}

func TestCheckDriftReportsUndeployedArtifactAsAdded(t *testing.T) {
	f := newFixture(t)
	project := t.TempDir()

	entries, err := f.coord.CheckDrift(project)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := summarize(entries)
	want := []entrySummary{{Key: "skill:foo", Kind: drift.KindAdded, Recommendation: drift.RecommendDeployToProject}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("drift summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncToProjectDeploysNewArtifact(t *testing.T) {
	f := newFixture(t)
	project := t.TempDir()
	ctx := context.Background()

	result, err := f.coord.SyncToProject(ctx, project, Options{})
	require.NoError(t, err)
	require.True(t, result.Success())
	require.Len(t, result.Outcomes, 1)
	require.Equal(t, "synced", result.Outcomes[0].Status)

	deployedPath := ProjectArtifactPath(project, model.TypeSkill, "foo")
	content, err := os.ReadFile(filepath.Join(deployedPath, "SKILL.md"))
	require.NoError(t, err)
	require.Equal(t, "# foo v1\n", string(content))

	led, err := ledger.Load(project)
	require.NoError(t, err)
	dep, ok := led.Find("skill:foo")
	require.True(t, ok)
	require.Equal(t, model.SyncStatusSynced, dep.SyncStatus)

	entries, err := f.coord.CheckDrift(project)
	require.NoError(t, err)
	require.Empty(t, entries, "freshly deployed artifact should show no drift")
}

func TestSyncFromProjectPullsLocalEdit(t *testing.T) {
	f := newFixture(t)
	project := t.TempDir()
	ctx := context.Background()

	_, err := f.coord.SyncToProject(ctx, project, Options{})
	require.NoError(t, err)

	deployedPath := ProjectArtifactPath(project, model.TypeSkill, "foo")
	require.NoError(t, os.WriteFile(filepath.Join(deployedPath, "SKILL.md"), []byte("# foo v2 (edited locally)\n"), 0644))

	entries, err := f.coord.CheckDrift(project)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, drift.KindModified, entries[0].Kind)
	require.Equal(t, model.ChangeLocalModification, entries[0].ChangeOrigin)

	result, err := f.coord.SyncFromProject(ctx, project, Options{Strategy: StrategyOverwrite})
	require.NoError(t, err)
	require.True(t, result.Success())
	require.Len(t, result.Outcomes, 1)

	collectionContent, err := os.ReadFile(filepath.Join(f.collectionRoot, "skills", "foo", "SKILL.md"))
	require.NoError(t, err)
	require.Equal(t, "# foo v2 (edited locally)\n", string(collectionContent))

	entries, err = f.coord.CheckDrift(project)
	require.NoError(t, err)
	require.Empty(t, entries, "collection should now match the pulled edit")
}

func TestSyncToProjectDryRunDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	project := t.TempDir()
	ctx := context.Background()

	result, err := f.coord.SyncToProject(ctx, project, Options{DryRun: true})
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Len(t, result.Preview, 1)
	require.Empty(t, result.Outcomes)

	deployedPath := ProjectArtifactPath(project, model.TypeSkill, "foo")
	_, err = os.Stat(deployedPath)
	require.True(t, os.IsNotExist(err), "dry run must not write to the project")

	led, err := ledger.Load(project)
	require.NoError(t, err)
	require.Empty(t, led.Deployments)
}

func TestSyncToProjectFilterSkipsNonMatchingArtifacts(t *testing.T) {
	f := newFixture(t)
	project := t.TempDir()
	ctx := context.Background()

	result, err := f.coord.SyncToProject(ctx, project, Options{
		Filter: func(t model.ArtifactType, name string) bool { return name != "foo" },
	})
	require.NoError(t, err)
	require.Empty(t, result.Outcomes)

	_, err = os.Stat(ProjectArtifactPath(project, model.TypeSkill, "foo"))
	require.True(t, os.IsNotExist(err))
}

type entrySummary struct {
	Key            string
	Kind           drift.Kind
	Recommendation drift.Recommendation
}

func summarize(entries []DriftEntry) []entrySummary {
	out := make([]entrySummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, entrySummary{Key: e.Key(), Kind: e.Kind, Recommendation: e.Recommendation})
	}
	return out
}

func mustHashTree(t *testing.T, dir string) string {
	t.Helper()
	hash, _, err := hashIfExists(dir)
	require.NoError(t, err)
	return hash
}
