// Package refresh implements the Refresher (C10): it re-reads upstream
// metadata for remote-repo and marketplace artifacts and applies any
// changes to the collection manifest, restricted to a fixed whitelist
// of fields (description, tags, author, license, origin_source).
package refresh

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"skillmeat/internal/errs"
	"skillmeat/internal/fetch"
	"skillmeat/internal/logging"
	"skillmeat/internal/manifest"
	"skillmeat/internal/model"
	"skillmeat/internal/snapshot"
)

// Field is one of the five refreshable metadata fields. The set is
// closed: any other field name is rejected rather than silently ignored.
type Field string

const (
	FieldDescription  Field = "description"
	FieldTags         Field = "tags"
	FieldAuthor       Field = "author"
	FieldLicense      Field = "license"
	FieldOriginSource Field = "origin_source"
)

var allFields = []Field{FieldDescription, FieldTags, FieldAuthor, FieldLicense, FieldOriginSource}

// Mode selects what a refresh call does once it has upstream metadata.
type Mode string

const (
	// ModeApply writes whitelisted changes back to the manifest.
	ModeApply Mode = "apply"
	// ModeCheck reports what would change without writing anything.
	ModeCheck Mode = "check"
)

// FieldChange is one field's before/after value for one artifact.
type FieldChange struct {
	Field Field
	Old   string
	New   string
}

// ArtifactReport is the outcome of refreshing, or checking, one artifact.
type ArtifactReport struct {
	Key     string
	Skipped bool
	Reason  string
	Changes []FieldChange
}

// Report is the outcome of one refresh run across a collection.
type Report struct {
	Mode     Mode
	Snapshot *model.SnapshotManifest
	Results  []ArtifactReport
	Errors   *errs.BatchResult
}

// Options configures one refresh run.
type Options struct {
	Mode Mode
	// Fields restricts the refresh to a subset of the whitelist; empty
	// means every field. An unknown field name is a caller error, not a
	// silent no-op, since the whitelist is small and misspellings are
	// more likely than genuine extension requests.
	Fields []Field
	// ArtifactFilter narrows the run to a subset of artifacts; nil means
	// every eligible artifact.
	ArtifactFilter func(model.Artifact) bool
}

// Refresher re-reads upstream metadata and reconciles it into a
// collection manifest, respecting each artifact's RefreshPolicy.
type Refresher struct {
	CollectionRoot string
	CollectionName string
	SnapshotsDir   string

	RemoteRepoFetcher  fetch.UpstreamFetcher
	MarketplaceFetcher fetch.UpstreamFetcher
}

// New constructs a Refresher backed by the standard git and marketplace
// fetchers.
func New(collectionRoot, collectionName, snapshotsDir string) *Refresher {
	return &Refresher{
		CollectionRoot:     collectionRoot,
		CollectionName:     collectionName,
		SnapshotsDir:       snapshotsDir,
		RemoteRepoFetcher:  fetch.NewRemoteRepoFetcher(),
		MarketplaceFetcher: fetch.NewMarketplaceFetcher(),
	}
}

// ValidateFields checks a caller-supplied field list against the
// whitelist, returning a descriptive error naming the closest valid
// field for a likely typo.
func ValidateFields(fields []Field) error {
	for _, f := range fields {
		if !isKnownField(f) {
			return errs.New(errs.ConstraintViolation, fmt.Sprintf("unknown refresh field %q, did you mean %q?", f, suggestField(f)), nil)
		}
	}
	return nil
}

func isKnownField(f Field) bool {
	for _, known := range allFields {
		if f == known {
			return true
		}
	}
	return false
}

// suggestField finds the whitelist entry sharing the longest common
// case-insensitive prefix or substring with f, for error messages.
func suggestField(f Field) Field {
	needle := strings.ToLower(string(f))
	best := allFields[0]
	bestScore := -1
	for _, known := range allFields {
		hay := strings.ToLower(string(known))
		score := 0
		switch {
		case hay == needle:
			score = 1000
		case strings.Contains(hay, needle) || strings.Contains(needle, hay):
			score = len(needle)
		default:
			score = commonPrefixLen(hay, needle)
		}
		if score > bestScore {
			bestScore = score
			best = known
		}
	}
	return best
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// Run refreshes every eligible artifact in the collection against its
// upstream origin, per spec.md §4.10.
func (r *Refresher) Run(ctx context.Context, opts Options) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryRefresh, "refresh.Run")
	defer timer.Stop()

	if opts.Mode == "" {
		opts.Mode = ModeApply
	}
	if err := ValidateFields(opts.Fields); err != nil {
		return nil, err
	}

	col, err := manifest.Read(r.CollectionRoot)
	if err != nil {
		return nil, errs.New(errs.ParseError, "read collection manifest", err)
	}

	var candidates []model.Artifact
	for _, a := range col.Artifacts {
		if a.Origin.Kind != model.OriginRemoteRepo && a.Origin.Kind != model.OriginMarketplace {
			continue
		}
		if opts.ArtifactFilter != nil && !opts.ArtifactFilter(a) {
			continue
		}
		candidates = append(candidates, a)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Key() < candidates[j].Key() })

	report := &Report{Mode: opts.Mode, Errors: errs.NewBatchResult()}

	if len(candidates) == 0 {
		return report, nil
	}

	if opts.Mode == ModeApply {
		snap, err := snapshot.Create(r.CollectionRoot, r.CollectionName, r.SnapshotsDir, fmt.Sprintf("pre-refresh-%d", time.Now().UnixNano()))
		if err != nil {
			return nil, errs.New(errs.IOError, "pre-refresh snapshot failed, aborting refresh", err)
		}
		report.Snapshot = &snap
	}

	dirty := false
	for _, artifact := range candidates {
		updated, result, applied := r.refreshOne(ctx, artifact, opts)
		report.Results = append(report.Results, result)
		if result.Skipped {
			report.Errors.RecordSkip(artifact.Key())
			continue
		}
		if applied {
			col.Upsert(updated)
			dirty = true
		}
		report.Errors.RecordSuccess(artifact.Key())
	}

	if dirty {
		if err := manifest.Write(col); err != nil {
			return report, errs.New(errs.IOError, "write refreshed manifest", err)
		}
	}

	return report, nil
}

// refreshOne fetches and applies (or previews) upstream metadata for one
// artifact. A per-artifact failure never aborts the run: a fetch error
// comes back as a skipped report whose Reason is the error text, and Run
// records it as a skip and continues.
func (r *Refresher) refreshOne(ctx context.Context, artifact model.Artifact, opts Options) (model.Artifact, ArtifactReport, bool) {
	key := artifact.Key()

	if artifact.Descriptor.RefreshPolicy == model.RefreshDisabled {
		return artifact, ArtifactReport{Key: key, Skipped: true, Reason: "refresh disabled for this artifact"}, false
	}
	if artifact.Descriptor.RefreshPolicy == model.RefreshManual && opts.Mode == ModeApply && opts.ArtifactFilter == nil {
		return artifact, ArtifactReport{Key: key, Skipped: true, Reason: "manual refresh policy: apply requires an explicit artifact filter"}, false
	}

	var fetcher fetch.UpstreamFetcher
	switch artifact.Origin.Kind {
	case model.OriginRemoteRepo:
		fetcher = r.RemoteRepoFetcher
	case model.OriginMarketplace:
		fetcher = r.MarketplaceFetcher
	default:
		return artifact, ArtifactReport{Key: key, Skipped: true, Reason: "artifact has no refreshable origin"}, false
	}

	upstream, err := fetcher.Fetch(ctx, artifact.Origin)
	if err != nil {
		return artifact, ArtifactReport{Key: key, Skipped: true, Reason: err.Error()}, false
	}

	// diffWhitelist always computes changes over every refreshable field,
	// regardless of opts.Fields: spec.md §4.10 requires fields outside an
	// apply-scoped subset to still be reported as "would change" even
	// though only the scoped subset is ever written back.
	changes := diffWhitelist(artifact, upstream)
	if opts.Mode == ModeCheck {
		return artifact, ArtifactReport{Key: key, Changes: changes}, false
	}

	applicable := opts.Fields
	if len(applicable) == 0 {
		applicable = allFields
	}
	toApply := filterFields(changes, applicable)
	if len(toApply) == 0 {
		return artifact, ArtifactReport{Key: key, Changes: changes}, false
	}

	applyChanges(&artifact, toApply)
	logging.Get(logging.CategoryRefresh).StructuredLog("info", "artifact refreshed", map[string]interface{}{
		"artifact": key,
		"fields":   len(toApply),
	})
	return artifact, ArtifactReport{Key: key, Changes: changes}, true
}

// diffWhitelist reports a FieldChange for every one of the five
// refreshable fields whose upstream value differs from the collection's,
// independent of which fields a caller intends to apply.
func diffWhitelist(a model.Artifact, u fetch.UpstreamMetadata) []FieldChange {
	d := a.Descriptor
	var out []FieldChange

	if u.Description != "" && u.Description != d.Description {
		out = append(out, FieldChange{Field: FieldDescription, Old: d.Description, New: u.Description})
	}
	if len(u.Tags) > 0 && !equalTags(a.Tags, u.Tags) {
		out = append(out, FieldChange{Field: FieldTags, Old: strings.Join(a.Tags, ","), New: strings.Join(u.Tags, ",")})
	}
	if u.Author != "" && u.Author != d.Author {
		out = append(out, FieldChange{Field: FieldAuthor, Old: d.Author, New: u.Author})
	}
	if u.License != "" && u.License != d.License {
		out = append(out, FieldChange{Field: FieldLicense, Old: d.License, New: u.License})
	}
	if u.OriginSource != "" && u.OriginSource != a.Origin.Locator {
		out = append(out, FieldChange{Field: FieldOriginSource, Old: a.Origin.Locator, New: u.OriginSource})
	}
	return out
}

// filterFields narrows changes down to the subset whose Field is in
// applicable, preserving order.
func filterFields(changes []FieldChange, applicable []Field) []FieldChange {
	var out []FieldChange
	for _, c := range changes {
		for _, f := range applicable {
			if c.Field == f {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sortedA := append([]string(nil), a...)
	sortedB := append([]string(nil), b...)
	sort.Strings(sortedA)
	sort.Strings(sortedB)
	for i := range sortedA {
		if sortedA[i] != sortedB[i] {
			return false
		}
	}
	return true
}

func applyChanges(a *model.Artifact, changes []FieldChange) {
	for _, c := range changes {
		switch c.Field {
		case FieldDescription:
			a.Descriptor.Description = c.New
		case FieldTags:
			a.Tags = strings.Split(c.New, ",")
		case FieldAuthor:
			a.Descriptor.Author = c.New
		case FieldLicense:
			a.Descriptor.License = c.New
		case FieldOriginSource:
			a.Origin.Locator = c.New
		}
	}
}
