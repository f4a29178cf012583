// Package drift implements the Drift Classifier (C7): a pure function
// turning (collection_hash, baseline_hash, project_hash) plus presence
// flags into one of six drift kinds with a recommended action and a
// change-origin attribution.
package drift

import "skillmeat/internal/model"

// Kind is a closed tagged variant over the six drift classifications.
type Kind string

const (
	KindAdded           Kind = "added"
	KindRemoved         Kind = "removed"
	KindModified        Kind = "modified"
	KindOutdated        Kind = "outdated"
	KindConflict        Kind = "conflict"
	KindVersionMismatch Kind = "version-mismatch"
	// KindNone is returned when nothing has drifted; it carries no
	// recommendation and is never written to the ledger.
	KindNone Kind = ""
)

// Recommendation names the suggested next action for a drift kind.
type Recommendation string

const (
	RecommendDeployToProject    Recommendation = "deploy-to-project"
	RecommendRemoveFromProject  Recommendation = "remove-from-project"
	RecommendPushToCollection   Recommendation = "push-to-collection"
	RecommendPullFromCollection Recommendation = "pull-from-collection"
	RecommendReviewManually     Recommendation = "review-manually"
	RecommendNone               Recommendation = ""
)

// Input is the triple of content hashes plus presence flags the
// classifier consumes for one artifact.
type Input struct {
	CollectionHash string
	BaselineHash   string
	ProjectHash    string

	CollectionPresent bool
	BaselinePresent   bool
	ProjectPresent    bool

	// VersionTagMismatch signals the version-mismatch drift kind, which is
	// orthogonal to the hash-based rows below (spec.md §4.7's final row).
	VersionTagMismatch bool
}

// Result is the classifier's verdict for one artifact.
type Result struct {
	Kind           Kind
	Recommendation Recommendation
	ChangeOrigin   model.ChangeOrigin
}

// Classify is a pure function: the same Input always yields the same
// Result, per spec.md §8's testable property.
func Classify(in Input) Result {
	switch {
	case in.CollectionPresent && !in.BaselinePresent && !in.ProjectPresent:
		return Result{Kind: KindAdded, Recommendation: RecommendDeployToProject, ChangeOrigin: model.ChangeSync}

	case !in.CollectionPresent && in.BaselinePresent && in.ProjectPresent:
		return Result{Kind: KindRemoved, Recommendation: RecommendRemoveFromProject, ChangeOrigin: model.ChangeSync}

	case in.CollectionPresent && in.BaselinePresent && in.ProjectPresent:
		collectionMatchesBaseline := in.CollectionHash == in.BaselineHash
		projectMatchesBaseline := in.ProjectHash == in.BaselineHash

		switch {
		case collectionMatchesBaseline && !projectMatchesBaseline:
			return Result{Kind: KindModified, Recommendation: RecommendPushToCollection, ChangeOrigin: model.ChangeLocalModification}
		case !collectionMatchesBaseline && projectMatchesBaseline:
			return Result{Kind: KindOutdated, Recommendation: RecommendPullFromCollection, ChangeOrigin: model.ChangeSync}
		case !collectionMatchesBaseline && !projectMatchesBaseline && in.ProjectHash != in.CollectionHash:
			return Result{Kind: KindConflict, Recommendation: RecommendReviewManually, ChangeOrigin: model.ChangeLocalModification}
		}
	}

	if in.VersionTagMismatch {
		return Result{Kind: KindVersionMismatch, Recommendation: RecommendPullFromCollection, ChangeOrigin: model.ChangeSync}
	}

	return Result{Kind: KindNone, Recommendation: RecommendNone}
}
