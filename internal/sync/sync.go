// Package sync implements the Sync Coordinator (C8): the orchestrator
// that walks drift for a project, invokes the Diff/Merge Engines and the
// Drift Classifier, and writes new Version Graph records and Deployment
// Ledger entries. It is the one component that touches every other piece
// of the core, per spec.md §2's data-flow description.
package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"skillmeat/internal/blobstore"
	"skillmeat/internal/config"
	"skillmeat/internal/diffengine"
	"skillmeat/internal/drift"
	"skillmeat/internal/errs"
	"skillmeat/internal/hashtree"
	"skillmeat/internal/ledger"
	"skillmeat/internal/lock"
	"skillmeat/internal/logging"
	"skillmeat/internal/manifest"
	"skillmeat/internal/mergeengine"
	"skillmeat/internal/model"
	"skillmeat/internal/snapshot"
	"skillmeat/internal/versiongraph"
)

// Strategy selects how a drifted artifact's content is reconciled.
type Strategy string

const (
	StrategyOverwrite Strategy = "overwrite"
	StrategyMerge     Strategy = "merge"
	StrategyFork      Strategy = "fork"
	StrategyPrompt    Strategy = "prompt"
)

// AutoResolve governs a "prompt" strategy sync run non-interactively.
type AutoResolve string

const (
	AutoResolveAbort  AutoResolve = "abort"
	AutoResolveOurs   AutoResolve = "ours"
	AutoResolveTheirs AutoResolve = "theirs"
	AutoResolveUnset  AutoResolve = ""
)

// ArtifactFilter narrows a sync to a subset of drifted artifacts.
// A nil filter means "every drifted artifact".
type ArtifactFilter func(artifactType model.ArtifactType, name string) bool

// Options configures one pull or push cycle.
type Options struct {
	Strategy    Strategy
	Filter      ArtifactFilter
	Interactive bool
	DryRun      bool
	AutoResolve AutoResolve

	// Prompt is consulted when Interactive is true and Strategy is
	// StrategyPrompt: it is the narrow seam into the interactive
	// confirmation flow that spec.md §1 places outside the core's
	// contract. A nil Prompt with Interactive=true is a caller error.
	Prompt func(DriftEntry) model.Resolution
}

// DriftEntry is one artifact's classification, as returned by CheckDrift
// and consumed internally to decide what a sync should do with it.
type DriftEntry struct {
	ArtifactType model.ArtifactType
	Name         string

	Kind           drift.Kind
	Recommendation drift.Recommendation
	ChangeOrigin   model.ChangeOrigin

	CollectionHash string
	BaselineHash   string
	ProjectHash    string
}

// Key renders the (type, name) compound key, mirroring model.Artifact.Key.
func (d DriftEntry) Key() string {
	return string(d.ArtifactType) + ":" + d.Name
}

// ArtifactOutcome is one artifact's result within a sync Result.
type ArtifactOutcome struct {
	Key            string
	Status         string
	NewContentHash string
	Conflicts      []model.ConflictDescriptor
}

// Result is the outcome of one sync_from_project/sync_to_project call.
type Result struct {
	DryRun   bool
	Snapshot *model.SnapshotManifest
	Preview  []DriftEntry
	Outcomes []ArtifactOutcome
	Errors   *errs.BatchResult
}

// Success reports whether every targeted artifact synced without a
// conflict or a per-artifact failure.
func (r *Result) Success() bool {
	if r.Errors != nil && !r.Errors.OK() {
		return false
	}
	for _, o := range r.Outcomes {
		if len(o.Conflicts) > 0 {
			return false
		}
	}
	return true
}

// Coordinator holds the collaborators C8 orchestrates: the collection
// manifest location, the embedded version graph, the content-addressed
// blob store used to recover three-way-merge baselines, the per-artifact
// and per-collection locks, and the conflict-attribution policy.
type Coordinator struct {
	CollectionRoot string
	CollectionName string
	SnapshotsDir   string

	Graph *versiongraph.Graph
	Blobs *blobstore.Store

	ArtifactLocks  *lock.Artifacts
	CollectionLock *lock.Collection

	ConflictAttribution config.ConflictAttribution
	MaxConcurrency      int
}

// New constructs a Coordinator from an opened collection's collaborators.
func New(collectionRoot, collectionName, snapshotsDir string, graph *versiongraph.Graph, cfg *config.Config) *Coordinator {
	maxConcurrency := 32
	if cfg != nil && cfg.JobQueue.MaxConcurrency > 0 {
		maxConcurrency = cfg.JobQueue.MaxConcurrency
	}
	attribution := config.AttributeLocal
	if cfg != nil && cfg.Drift.ConflictAttribution != "" {
		attribution = cfg.Drift.ConflictAttribution
	}
	return &Coordinator{
		CollectionRoot:      collectionRoot,
		CollectionName:      collectionName,
		SnapshotsDir:        snapshotsDir,
		Graph:               graph,
		Blobs:               blobstore.New(collectionRoot),
		ArtifactLocks:       lock.NewArtifacts(),
		CollectionLock:      &lock.Collection{},
		ConflictAttribution: attribution,
		MaxConcurrency:      maxConcurrency,
	}
}

// ProjectArtifactPath is the convention for where a deployed artifact
// lives under a project root: a dot-prefixed config directory mirroring
// the collection's own per-type layout (manifest.DefaultSubpath).
func ProjectArtifactPath(projectRoot string, t model.ArtifactType, name string) string {
	switch t {
	case model.TypeSkill:
		return filepath.Join(projectRoot, ".claude", "skills", name)
	case model.TypeCommand:
		return filepath.Join(projectRoot, ".claude", "commands", name+".md")
	case model.TypeAgent:
		return filepath.Join(projectRoot, ".claude", "agents", name)
	case model.TypeHook:
		return filepath.Join(projectRoot, ".claude", "hooks", name)
	case model.TypeMCPServer:
		return filepath.Join(projectRoot, ".claude", "mcp-servers", name)
	case model.TypeComposite:
		return filepath.Join(projectRoot, ".claude", "composites", name)
	default:
		return filepath.Join(projectRoot, ".claude", "artifacts", name)
	}
}

// lockKey renders the "collection:type:name" exclusive-lock name spec.md
// §5 mandates for the full read-modify-write cycle of one artifact.
func (c *Coordinator) lockKey(t model.ArtifactType, name string) string {
	return fmt.Sprintf("%s:%s:%s", c.CollectionName, t, name)
}

// CheckDrift is the read-only classification verb: it never mutates the
// collection, the ledger, or the project tree.
func (c *Coordinator) CheckDrift(project string) ([]DriftEntry, error) {
	timer := logging.StartTimer(logging.CategorySync, "CheckDrift")
	defer timer.Stop()

	c.CollectionLock.RLock()
	defer c.CollectionLock.RUnlock()

	col, err := manifest.Read(c.CollectionRoot)
	if err != nil {
		return nil, errs.New(errs.ParseError, "read collection manifest", err)
	}
	led, err := ledger.Load(project)
	if err != nil {
		return nil, errs.New(errs.ParseError, "read deployment ledger", err)
	}

	return classifyAll(col, led, project)
}

// PreviewDiff renders the two-way textual diff between one artifact's
// collection tree and its deployed project tree, for surfacing alongside
// a drift report (spec.md §4.5's two-way diff, read-only like CheckDrift).
func (c *Coordinator) PreviewDiff(project string, t model.ArtifactType, name string) (*diffengine.TreeDiff, error) {
	col, err := manifest.Read(c.CollectionRoot)
	if err != nil {
		return nil, errs.New(errs.ParseError, "read collection manifest", err)
	}

	var collectionTree diffengine.FileSet
	if artifact, ok := col.Find(string(t) + ":" + name); ok {
		collectionTree, err = diffengine.ReadTree(col.ArtifactPath(artifact))
		if err != nil {
			return nil, errs.ForArtifact(errs.IOError, name, "read collection tree", err)
		}
	} else {
		collectionTree = diffengine.FileSet{}
	}

	projectTree, err := diffengine.ReadTree(ProjectArtifactPath(project, t, name))
	if err != nil {
		return nil, errs.ForArtifact(errs.IOError, name, "read project tree", err)
	}

	return diffengine.DiffTrees(collectionTree, projectTree), nil
}

// classifyAll computes a DriftEntry for the union of every artifact known
// to the collection and every artifact known to the ledger.
func classifyAll(col *manifest.Collection, led *ledger.Ledger, project string) ([]DriftEntry, error) {
	keys := map[string]struct {
		artifactType model.ArtifactType
		name         string
	}{}
	for _, a := range col.Artifacts {
		keys[a.Key()] = struct {
			artifactType model.ArtifactType
			name         string
		}{a.Type, a.Name}
	}
	for _, d := range led.Deployments {
		keys[d.Key()] = struct {
			artifactType model.ArtifactType
			name         string
		}{d.ArtifactType, d.Name}
	}

	sortedKeys := make([]string, 0, len(keys))
	for k := range keys {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)

	var out []DriftEntry
	for _, key := range sortedKeys {
		info := keys[key]
		entry, err := classifyOne(col, led, project, info.artifactType, info.name)
		if err != nil {
			return nil, err
		}
		if entry.Kind == drift.KindNone {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func classifyOne(col *manifest.Collection, led *ledger.Ledger, project string, t model.ArtifactType, name string) (DriftEntry, error) {
	key := string(t) + ":" + name

	artifact, inCollection := col.Find(key)
	deployment, inLedger := led.Find(key)

	var collectionHash string
	if inCollection {
		h, _, err := hashIfExists(col.ArtifactPath(artifact))
		if err != nil {
			return DriftEntry{}, errs.ForArtifact(errs.IOError, key, "hash collection artifact", err)
		}
		collectionHash = h
	}

	var baselineHash string
	if inLedger {
		baselineHash = deployment.SHA
	}

	projectPath := ProjectArtifactPath(project, t, name)
	projectHash, projectPresent, err := hashIfExists(projectPath)
	if err != nil {
		return DriftEntry{}, errs.ForArtifact(errs.IOError, key, "hash project artifact", err)
	}

	versionMismatch := false
	if inCollection && inLedger && collectionHash == baselineHash && projectHash == baselineHash {
		versionMismatch = artifact.ResolvedVer != "" && deployment.Version != "" && artifact.ResolvedVer != deployment.Version
	}

	result := drift.Classify(drift.Input{
		CollectionHash:     collectionHash,
		BaselineHash:       baselineHash,
		ProjectHash:        projectHash,
		CollectionPresent:  inCollection,
		BaselinePresent:    inLedger,
		ProjectPresent:     projectPresent,
		VersionTagMismatch: versionMismatch,
	})

	return DriftEntry{
		ArtifactType:   t,
		Name:           name,
		Kind:           result.Kind,
		Recommendation: result.Recommendation,
		ChangeOrigin:   result.ChangeOrigin,
		CollectionHash: collectionHash,
		BaselineHash:   baselineHash,
		ProjectHash:    projectHash,
	}, nil
}

// hashIfExists hashes path's tree, treating a missing path as an absent,
// zero-hash artifact rather than an error: hashtree.HashTree requires the
// directory to exist, but "never deployed to this project" and "not yet
// imported into the collection" are both ordinary, valid states here.
func hashIfExists(path string) (hash string, present bool, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return "", false, nil
		}
		return "", false, statErr
	}
	h, err := hashtree.HashTree(path)
	if err != nil {
		return "", false, err
	}
	return h, true, nil
}

// SyncFromProject pulls local edits out of a project and into the
// collection: the artifacts it targets are exactly those whose drift
// classification attributes the change to local-modification (drift
// kinds "modified" and "conflict"), per spec.md §4.8's pull algorithm.
func (c *Coordinator) SyncFromProject(ctx context.Context, project string, opts Options) (*Result, error) {
	return c.run(ctx, project, opts, model.ChangeLocalModification, true)
}

// SyncToProject pushes collection state into a project: the artifacts it
// targets are those whose drift attributes the change to sync (drift
// kinds "added", "outdated", "removed", "version-mismatch"), the mirror
// image of SyncFromProject with collection and project swapped.
func (c *Coordinator) SyncToProject(ctx context.Context, project string, opts Options) (*Result, error) {
	return c.run(ctx, project, opts, model.ChangeSync, false)
}

func (c *Coordinator) run(ctx context.Context, project string, opts Options, origin model.ChangeOrigin, pull bool) (*Result, error) {
	verb := "sync_to_project"
	if pull {
		verb = "sync_from_project"
	}
	timer := logging.StartTimer(logging.CategorySync, verb)
	defer timer.Stop()

	if opts.Interactive && opts.Strategy == StrategyPrompt && opts.Prompt == nil {
		return nil, errs.New(errs.ConstraintViolation, "interactive prompt strategy requires a Prompt callback", nil)
	}
	if opts.Strategy == StrategyFork && !pull {
		return nil, errs.New(errs.ConstraintViolation, "fork strategy only applies to sync_from_project", nil)
	}

	col, err := manifest.Read(c.CollectionRoot)
	if err != nil {
		return nil, errs.New(errs.ParseError, "read collection manifest", err)
	}
	led, err := ledger.Load(project)
	if err != nil {
		return nil, errs.New(errs.ParseError, "read deployment ledger", err)
	}

	entries, err := classifyAll(col, led, project)
	if err != nil {
		return nil, err
	}

	var targets []DriftEntry
	for _, e := range entries {
		if e.ChangeOrigin != origin {
			continue
		}
		if opts.Filter != nil && !opts.Filter(e.ArtifactType, e.Name) {
			continue
		}
		targets = append(targets, e)
	}

	result := &Result{DryRun: opts.DryRun, Errors: errs.NewBatchResult()}
	if opts.DryRun {
		result.Preview = targets
		return result, nil
	}
	if len(targets) == 0 {
		return result, nil
	}

	c.CollectionLock.RLock()
	defer c.CollectionLock.RUnlock()

	snap, err := snapshot.Create(c.CollectionRoot, c.CollectionName, c.SnapshotsDir, fmt.Sprintf("pre-sync-%d", time.Now().UnixNano()))
	if err != nil {
		return nil, errs.New(errs.IOError, "pre-sync snapshot failed, aborting sync", err)
	}
	result.Snapshot = &snap

	var mu stdsync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if c.MaxConcurrency > 0 {
		g.SetLimit(c.MaxConcurrency)
	}

	for _, e := range targets {
		e := e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			var outcome ArtifactOutcome
			lockErr := c.ArtifactLocks.WithLock(c.lockKey(e.ArtifactType, e.Name), func() error {
				var artifactErr error
				if pull {
					outcome, artifactErr = c.syncOnePull(gctx, col, led, project, e, opts, &mu)
				} else {
					outcome, artifactErr = c.syncOnePush(gctx, col, led, project, e, opts, &mu)
				}
				return artifactErr
			})

			mu.Lock()
			defer mu.Unlock()
			if lockErr != nil {
				var taxErr *errs.Error
				if asTaxonomyError(lockErr, &taxErr) {
					result.Errors.RecordFailure(e.Key(), taxErr)
				} else {
					result.Errors.RecordFailure(e.Key(), errs.ForArtifact(errs.IOError, e.Key(), "sync artifact", lockErr))
				}
				return nil // per-artifact failures never abort the batch
			}
			result.Errors.RecordSuccess(e.Key())
			result.Outcomes = append(result.Outcomes, outcome)
			return nil
		})
	}
	if err := g.Wait(); err != nil && gctx.Err() != nil {
		return result, errs.New(errs.Cancelled, "sync cancelled", err)
	}

	if err := manifest.Write(col); err != nil {
		return result, errs.New(errs.IOError, "write collection manifest", err)
	}
	if err := led.Save(); err != nil {
		return result, errs.New(errs.IOError, "write deployment ledger", err)
	}

	sort.Slice(result.Outcomes, func(i, j int) bool { return result.Outcomes[i].Key < result.Outcomes[j].Key })
	return result, nil
}

// syncOnePull handles one artifact targeted by SyncFromProject: it
// reconciles collection <- project, per the drift recommendation
// push-to-collection (modified) or review-manually (conflict).
func (c *Coordinator) syncOnePull(ctx context.Context, col *manifest.Collection, led *ledger.Ledger, project string, e DriftEntry, opts Options, mu *stdsync.Mutex) (ArtifactOutcome, error) {
	artifact, ok := col.Find(e.Key())
	if !ok {
		return ArtifactOutcome{}, errs.ForArtifact(errs.NotFound, e.Key(), "artifact missing from collection for a local-modification drift", nil)
	}
	deployment, ok := led.Find(e.Key())
	if !ok {
		return ArtifactOutcome{}, errs.ForArtifact(errs.NotFound, e.Key(), "deployment missing from ledger for a local-modification drift", nil)
	}

	if e.Kind == drift.KindConflict && c.ConflictAttribution == config.AttributeManual {
		mu.Lock()
		led.SetSyncStatus(e.Key(), model.SyncStatusConflicted, nil)
		deployment, _ = led.Find(e.Key())
		deployment.ConflictBaseHash, deployment.ConflictCollectionHash, deployment.ConflictProjectHash = e.BaselineHash, e.CollectionHash, e.ProjectHash
		led.Record(deployment)
		mu.Unlock()
		return ArtifactOutcome{Key: e.Key(), Status: "awaiting_manual_resolution"}, nil
	}

	strategy, resolvedBy := resolveStrategy(e, opts)
	switch resolvedBy {
	case "skipped_non_interactive", "kept_local_non_interactive":
		return ArtifactOutcome{Key: e.Key(), Status: resolvedBy}, nil
	}

	collectionPath := col.ArtifactPath(artifact)
	projectPath := ProjectArtifactPath(project, e.ArtifactType, e.Name)

	switch strategy {
	case StrategyFork:
		return c.forkFromProject(col, led, artifact, deployment, projectPath, mu)
	case StrategyOverwrite:
		return c.overwritePull(col, led, artifact, deployment, collectionPath, projectPath, mu)
	default: // StrategyMerge, an unset strategy, or an interactive prompt answer other than use-local/use-remote
		return c.mergePull(col, led, artifact, deployment, e, collectionPath, projectPath, mu)
	}
}

// resolveStrategy applies the prompt/auto-resolve policy from spec.md
// §4.8 step 6, returning the strategy to execute plus a short-circuit
// status when the policy says to skip or no-op instead.
func resolveStrategy(e DriftEntry, opts Options) (Strategy, string) {
	if opts.Strategy != StrategyPrompt {
		return opts.Strategy, ""
	}
	if opts.Interactive {
		resolution := opts.Prompt(e)
		switch resolution {
		case model.ResolveUseRemote:
			return StrategyOverwrite, ""
		case model.ResolveUseLocal:
			return "", "kept_local_non_interactive"
		default:
			return StrategyMerge, ""
		}
	}
	switch opts.AutoResolve {
	case AutoResolveAbort:
		return "", "skipped_non_interactive"
	case AutoResolveTheirs:
		return StrategyOverwrite, ""
	case AutoResolveOurs:
		return "", "kept_local_non_interactive"
	default:
		return "", "skipped_non_interactive"
	}
}

func (c *Coordinator) overwritePull(col *manifest.Collection, led *ledger.Ledger, artifact model.Artifact, deployment model.DeploymentRecord, collectionPath, projectPath string, mu *stdsync.Mutex) (ArtifactOutcome, error) {
	target, err := diffengine.ReadTree(projectPath)
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, artifact.Key(), "read project tree", err)
	}
	if err := diffengine.WriteTree(collectionPath, target); err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, artifact.Key(), "overwrite collection tree", err)
	}
	newHash, err := hashtree.HashTree(collectionPath)
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, artifact.Key(), "hash merged tree", err)
	}
	if err := c.Blobs.Put(newHash, target); err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, artifact.Key(), "archive new baseline blob", err)
	}
	rec, err := c.Graph.RecordLocalModification(artifact.ID, newHash)
	if err != nil {
		return ArtifactOutcome{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	artifact.ContentHash = newHash
	col.Upsert(artifact)
	deployment.SHA, deployment.ContentHash = newHash, newHash
	deployment.VersionLineage = rec.Lineage
	deployment.SyncStatus = model.SyncStatusSynced
	deployment.PendingConflicts = nil
	led.Record(deployment)

	return ArtifactOutcome{Key: artifact.Key(), Status: "synced", NewContentHash: newHash}, nil
}

func (c *Coordinator) mergePull(col *manifest.Collection, led *ledger.Ledger, artifact model.Artifact, deployment model.DeploymentRecord, e DriftEntry, collectionPath, projectPath string, mu *stdsync.Mutex) (ArtifactOutcome, error) {
	baseFS, err := c.Blobs.Get(e.BaselineHash)
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IntegrityError, artifact.Key(), "baseline tree not recoverable for three-way merge", err)
	}
	localFS, err := diffengine.ReadTree(collectionPath) // collection is "LOCAL (current)" from its own vantage point
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, artifact.Key(), "read collection tree", err)
	}
	remoteFS, err := diffengine.ReadTree(projectPath) // project edits are "REMOTE (incoming)"
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, artifact.Key(), "read project tree", err)
	}

	mergeResult, err := mergeengine.MergeTrees(baseFS, localFS, remoteFS, collectionPath)
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, artifact.Key(), "merge into collection", err)
	}

	newHash, err := hashtree.HashTree(collectionPath)
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, artifact.Key(), "hash merge result", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if !mergeResult.Success {
		led.SetSyncStatus(artifact.Key(), model.SyncStatusConflicted, conflictPaths(mergeResult.Conflicts))
		deployment, _ = led.Find(artifact.Key())
		deployment.ConflictBaseHash, deployment.ConflictCollectionHash, deployment.ConflictProjectHash = e.BaselineHash, e.CollectionHash, e.ProjectHash
		led.Record(deployment)
		return ArtifactOutcome{Key: artifact.Key(), Status: "conflict", Conflicts: mergeResult.Conflicts}, nil
	}

	mergedFS, err := diffengine.ReadTree(collectionPath)
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, artifact.Key(), "read merged tree", err)
	}
	if err := c.Blobs.Put(newHash, mergedFS); err != nil {
		return ArtifactOutcome{}, err
	}
	rec, err := c.Graph.RecordLocalModification(artifact.ID, newHash)
	if err != nil {
		return ArtifactOutcome{}, err
	}

	artifact.ContentHash = newHash
	col.Upsert(artifact)
	deployment.SHA, deployment.ContentHash = newHash, newHash
	deployment.VersionLineage = rec.Lineage
	deployment.SyncStatus = model.SyncStatusSynced
	deployment.PendingConflicts = nil
	deployment.ConflictBaseHash, deployment.ConflictCollectionHash, deployment.ConflictProjectHash = "", "", ""
	led.Record(deployment)

	return ArtifactOutcome{Key: artifact.Key(), Status: "synced", NewContentHash: newHash}, nil
}

func (c *Coordinator) forkFromProject(col *manifest.Collection, led *ledger.Ledger, artifact model.Artifact, deployment model.DeploymentRecord, projectPath string, mu *stdsync.Mutex) (ArtifactOutcome, error) {
	target, err := diffengine.ReadTree(projectPath)
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, artifact.Key(), "read project tree for fork", err)
	}

	forkName := artifact.Name + "-fork"
	forkArtifact := artifact
	forkArtifact.ID = uuid.NewString()
	forkArtifact.Name = forkName
	forkArtifact.Path = manifest.DefaultSubpath(artifact.Type, forkName)
	forkArtifact.Origin = model.Origin{Kind: model.OriginLocal}
	forkArtifact.Added = time.Now()

	forkPath := col.ArtifactPath(forkArtifact)
	if err := diffengine.WriteTree(forkPath, target); err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, forkArtifact.Key(), "write forked tree", err)
	}
	newHash, err := hashtree.HashTree(forkPath)
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, forkArtifact.Key(), "hash forked tree", err)
	}
	if err := c.Blobs.Put(newHash, target); err != nil {
		return ArtifactOutcome{}, err
	}
	forkArtifact.ContentHash = newHash

	if _, err := c.Graph.RecordDeployment(forkArtifact.ID, newHash); err != nil {
		return ArtifactOutcome{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	col.Upsert(forkArtifact)
	// The original artifact and its ledger entry are untouched: a fork
	// leaves "skill:bar" exactly as it was (spec.md §8 scenario 4).

	return ArtifactOutcome{Key: forkArtifact.Key(), Status: "forked", NewContentHash: newHash}, nil
}

// syncOnePush handles one artifact targeted by SyncToProject: deploy a
// newly-added artifact, pull newer collection bytes into a stale project,
// or remove a project copy whose collection original is gone.
func (c *Coordinator) syncOnePush(ctx context.Context, col *manifest.Collection, led *ledger.Ledger, project string, e DriftEntry, opts Options, mu *stdsync.Mutex) (ArtifactOutcome, error) {
	projectPath := ProjectArtifactPath(project, e.ArtifactType, e.Name)

	if e.Kind == drift.KindRemoved {
		if err := diffengine.WriteTree(projectPath, diffengine.FileSet{}); err != nil {
			return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, e.Key(), "remove project tree", err)
		}
		mu.Lock()
		led.Remove(e.Key())
		mu.Unlock()
		return ArtifactOutcome{Key: e.Key(), Status: "removed"}, nil
	}

	artifact, ok := col.Find(e.Key())
	if !ok {
		return ArtifactOutcome{}, errs.ForArtifact(errs.NotFound, e.Key(), "artifact missing from collection for a sync drift", nil)
	}
	collectionPath := col.ArtifactPath(artifact)

	if e.Kind == drift.KindConflict {
		deployment, _ := led.Find(e.Key())
		baseFS, err := c.Blobs.Get(e.BaselineHash)
		if err != nil {
			return ArtifactOutcome{}, errs.ForArtifact(errs.IntegrityError, e.Key(), "baseline tree not recoverable for three-way merge", err)
		}
		localFS, err := diffengine.ReadTree(projectPath) // project is "LOCAL (current)" from its own vantage point
		if err != nil {
			return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, e.Key(), "read project tree", err)
		}
		remoteFS, err := diffengine.ReadTree(collectionPath) // collection is "REMOTE (incoming)"
		if err != nil {
			return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, e.Key(), "read collection tree", err)
		}
		mergeResult, err := mergeengine.MergeTrees(baseFS, localFS, remoteFS, projectPath)
		if err != nil {
			return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, e.Key(), "merge into project", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if !mergeResult.Success {
			led.SetSyncStatus(e.Key(), model.SyncStatusConflicted, conflictPaths(mergeResult.Conflicts))
			deployment, _ = led.Find(e.Key())
			deployment.ConflictBaseHash, deployment.ConflictCollectionHash, deployment.ConflictProjectHash = e.BaselineHash, e.CollectionHash, e.ProjectHash
			led.Record(deployment)
			return ArtifactOutcome{Key: e.Key(), Status: "conflict", Conflicts: mergeResult.Conflicts}, nil
		}
		newHash, err := hashtree.HashTree(projectPath)
		if err != nil {
			return ArtifactOutcome{}, err
		}
		deployment.SHA, deployment.ContentHash = newHash, newHash
		deployment.SyncStatus = model.SyncStatusSynced
		deployment.PendingConflicts = nil
		led.Record(deployment)
		return ArtifactOutcome{Key: e.Key(), Status: "synced", NewContentHash: newHash}, nil
	}

	target, err := diffengine.ReadTree(collectionPath)
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, e.Key(), "read collection tree", err)
	}
	if err := diffengine.WriteTree(projectPath, target); err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, e.Key(), "write project tree", err)
	}
	newHash, err := hashtree.HashTree(projectPath)
	if err != nil {
		return ArtifactOutcome{}, errs.ForArtifact(errs.IOError, e.Key(), "hash deployed tree", err)
	}
	if err := c.Blobs.Put(newHash, target); err != nil {
		return ArtifactOutcome{}, err
	}

	var rec model.VersionRecord
	if e.Kind == drift.KindAdded {
		rec, err = c.Graph.RecordDeployment(artifact.ID, newHash)
	} else {
		rec, err = c.Graph.RecordSync(artifact.ID, newHash)
	}
	if err != nil {
		return ArtifactOutcome{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	deployment := model.DeploymentRecord{
		Name:           artifact.Name,
		ArtifactType:   artifact.Type,
		Source:         string(artifact.Origin.Kind),
		Version:        artifact.ResolvedVer,
		SHA:            newHash,
		ContentHash:    newHash,
		DeployedAt:     time.Now(),
		DeployedFrom:   c.CollectionRoot,
		VersionLineage: rec.Lineage,
		SyncStatus:     model.SyncStatusSynced,
	}
	led.Record(deployment)

	return ArtifactOutcome{Key: e.Key(), Status: "synced", NewContentHash: newHash}, nil
}

// ResolveConflict applies a chosen resolution to every pending conflict
// file of one artifact, re-deriving the three-way classification from
// the hashes the conflicting sync pinned on the ledger entry.
func (c *Coordinator) ResolveConflict(ctx context.Context, project, key string, resolution model.Resolution, mergedContent map[string][]byte) (*Result, error) {
	timer := logging.StartTimer(logging.CategorySync, "ResolveConflict")
	defer timer.Stop()

	col, err := manifest.Read(c.CollectionRoot)
	if err != nil {
		return nil, errs.New(errs.ParseError, "read collection manifest", err)
	}
	led, err := ledger.Load(project)
	if err != nil {
		return nil, errs.New(errs.ParseError, "read deployment ledger", err)
	}

	deployment, ok := led.Find(key)
	if !ok {
		return nil, errs.ForArtifact(errs.NotFound, key, "no deployment for artifact", nil)
	}
	if deployment.SyncStatus != model.SyncStatusConflicted {
		return nil, errs.ForArtifact(errs.ConstraintViolation, key, "artifact has no pending conflict", nil)
	}
	artifact, ok := col.Find(key)
	if !ok {
		return nil, errs.ForArtifact(errs.NotFound, key, "artifact missing from collection", nil)
	}

	var outcome ArtifactOutcome
	lockErr := c.ArtifactLocks.WithLock(c.lockKey(artifact.Type, artifact.Name), func() error {
		baseFS, err := c.Blobs.Get(deployment.ConflictBaseHash)
		if err != nil {
			return errs.ForArtifact(errs.IntegrityError, key, "base tree not recoverable", err)
		}
		localFS, err := c.Blobs.Get(deployment.ConflictCollectionHash)
		if err != nil {
			return errs.ForArtifact(errs.IntegrityError, key, "collection tree not recoverable", err)
		}
		remoteFS, err := c.Blobs.Get(deployment.ConflictProjectHash)
		if err != nil {
			return errs.ForArtifact(errs.IntegrityError, key, "project tree not recoverable", err)
		}

		diffResult := diffengine.DiffThreeWay(baseFS, localFS, remoteFS)
		collectionPath := col.ArtifactPath(artifact)
		resolved := map[string][]byte{}
		for _, path := range deployment.PendingConflicts {
			conflict, found := findConflict(diffResult.Conflicts, path)
			if !found {
				continue
			}
			content, err := mergeengine.ResolveConflict(conflict, resolution, mergedContent[path])
			if err != nil {
				return err
			}
			resolved[path] = content
		}

		merged := cloneFileSet(localFS)
		for path, content := range resolved {
			merged[path] = content
		}
		if err := diffengine.WriteTree(collectionPath, merged); err != nil {
			return errs.ForArtifact(errs.IOError, key, "write resolved tree", err)
		}

		newHash, err := hashtree.HashTree(collectionPath)
		if err != nil {
			return err
		}
		if err := c.Blobs.Put(newHash, merged); err != nil {
			return err
		}
		rec, err := c.Graph.RecordLocalModification(artifact.ID, newHash)
		if err != nil {
			return err
		}

		artifact.ContentHash = newHash
		col.Upsert(artifact)
		deployment.SHA, deployment.ContentHash = newHash, newHash
		deployment.VersionLineage = rec.Lineage
		deployment.SyncStatus = model.SyncStatusSynced
		deployment.PendingConflicts = nil
		deployment.ConflictBaseHash, deployment.ConflictCollectionHash, deployment.ConflictProjectHash = "", "", ""
		led.Record(deployment)

		outcome = ArtifactOutcome{Key: key, Status: "synced", NewContentHash: newHash}
		return nil
	})
	if lockErr != nil {
		return nil, lockErr
	}

	if err := manifest.Write(col); err != nil {
		return nil, errs.New(errs.IOError, "write collection manifest", err)
	}
	if err := led.Save(); err != nil {
		return nil, errs.New(errs.IOError, "write deployment ledger", err)
	}

	result := &Result{Errors: errs.NewBatchResult(), Outcomes: []ArtifactOutcome{outcome}}
	result.Errors.RecordSuccess(key)
	return result, nil
}

func findConflict(conflicts []model.ConflictDescriptor, path string) (model.ConflictDescriptor, bool) {
	for _, c := range conflicts {
		if c.Path == path {
			return c, true
		}
	}
	return model.ConflictDescriptor{}, false
}

func cloneFileSet(fs diffengine.FileSet) diffengine.FileSet {
	out := make(diffengine.FileSet, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}

func conflictPaths(conflicts []model.ConflictDescriptor) []string {
	out := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, c.Path)
	}
	return out
}

func asTaxonomyError(err error, target **errs.Error) bool {
	if e, ok := err.(*errs.Error); ok {
		*target = e
		return true
	}
	return false
}
