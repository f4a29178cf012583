package diffengine

import (
	"bytes"
	"sort"

	"skillmeat/internal/hashtree"
	"skillmeat/internal/model"
)

// WinnerSide names which side's bytes an auto-mergeable file resolves to.
type WinnerSide string

const (
	WinnerLocal   WinnerSide = "local"
	WinnerRemote  WinnerSide = "remote"
	WinnerEither  WinnerSide = "either" // local and remote agree
	WinnerDeleted WinnerSide = "deleted"
)

// AutoMergeDecision is one file the three-way diff resolved without a
// conflict, plus which side's bytes (or deletion) the merge engine should
// apply.
type AutoMergeDecision struct {
	Path   string
	Winner WinnerSide
}

// ThreeWayDiff is the output of a three-way diff, per spec.md §4.5.
type ThreeWayDiff struct {
	AutoMergeable []AutoMergeDecision
	Conflicts     []model.ConflictDescriptor
}

// DiffThreeWay classifies every file across base/local/remote per the
// classification table in spec.md §4.5.
func DiffThreeWay(base, local, remote FileSet) *ThreeWayDiff {
	result := &ThreeWayDiff{}

	paths := unionKeys(unionSet(base, local), remote)
	for _, path := range paths {
		baseBytes, hasBase := base[path]
		localBytes, hasLocal := local[path]
		remoteBytes, hasRemote := remote[path]

		switch {
		case hasBase && !hasLocal && !hasRemote:
			// Both sides deleted it independently: agreeing deletion, auto.
			result.AutoMergeable = append(result.AutoMergeable, AutoMergeDecision{Path: path, Winner: WinnerDeleted})

		case hasBase && hasLocal && hasRemote:
			localChanged := !bytes.Equal(localBytes, baseBytes)
			remoteChanged := !bytes.Equal(remoteBytes, baseBytes)
			switch {
			case !localChanged && !remoteChanged:
				// Unchanged on all sides: not emitted.
			case !localChanged && remoteChanged:
				result.AutoMergeable = append(result.AutoMergeable, AutoMergeDecision{Path: path, Winner: WinnerRemote})
			case localChanged && !remoteChanged:
				result.AutoMergeable = append(result.AutoMergeable, AutoMergeDecision{Path: path, Winner: WinnerLocal})
			case bytes.Equal(localBytes, remoteBytes):
				result.AutoMergeable = append(result.AutoMergeable, AutoMergeDecision{Path: path, Winner: WinnerEither})
			default:
				result.Conflicts = append(result.Conflicts, conflictDescriptor(path, model.ConflictBothModified, baseBytes, localBytes, remoteBytes, true, true, true))
			}

		case hasBase && !hasLocal && hasRemote:
			if bytes.Equal(remoteBytes, baseBytes) {
				// Remote unchanged, local deleted: propagate the deletion.
				result.AutoMergeable = append(result.AutoMergeable, AutoMergeDecision{Path: path, Winner: WinnerDeleted})
			} else {
				result.Conflicts = append(result.Conflicts, conflictDescriptor(path, model.ConflictDeletion, baseBytes, nil, remoteBytes, true, false, true))
			}

		case hasBase && hasLocal && !hasRemote:
			if bytes.Equal(localBytes, baseBytes) {
				result.AutoMergeable = append(result.AutoMergeable, AutoMergeDecision{Path: path, Winner: WinnerDeleted})
			} else {
				result.Conflicts = append(result.Conflicts, conflictDescriptor(path, model.ConflictDeletion, baseBytes, localBytes, nil, true, true, false))
			}

		case !hasBase && hasLocal && hasRemote:
			if bytes.Equal(localBytes, remoteBytes) {
				result.AutoMergeable = append(result.AutoMergeable, AutoMergeDecision{Path: path, Winner: WinnerEither})
			} else {
				result.Conflicts = append(result.Conflicts, conflictDescriptor(path, model.ConflictAddAdd, nil, localBytes, remoteBytes, false, true, true))
			}

		case !hasBase && hasLocal && !hasRemote:
			result.AutoMergeable = append(result.AutoMergeable, AutoMergeDecision{Path: path, Winner: WinnerLocal})

		case !hasBase && !hasLocal && hasRemote:
			result.AutoMergeable = append(result.AutoMergeable, AutoMergeDecision{Path: path, Winner: WinnerRemote})
		}
	}

	sort.Slice(result.AutoMergeable, func(i, j int) bool { return result.AutoMergeable[i].Path < result.AutoMergeable[j].Path })
	sort.Slice(result.Conflicts, func(i, j int) bool { return result.Conflicts[i].Path < result.Conflicts[j].Path })

	return result
}

func conflictDescriptor(path string, kind model.ConflictKind, base, local, remote []byte, hasBase, hasLocal, hasRemote bool) model.ConflictDescriptor {
	binary := hashtree.IsBinary(base) || hashtree.IsBinary(local) || hashtree.IsBinary(remote)
	recommended := model.ResolveManual
	if kind == model.ConflictDeletion {
		// No clear "manual" default beats a user picking a side explicitly,
		// but use-local is offered as the safer default since it never
		// destroys project-only edits.
		recommended = model.ResolveUseLocal
	}
	return model.ConflictDescriptor{
		Path:             path,
		Kind:             kind,
		BaseContent:      base,
		LocalContent:     local,
		RemoteContent:    remote,
		HasBaseContent:   hasBase,
		HasLocalContent:  hasLocal,
		HasRemoteContent: hasRemote,
		AutoMergeable:    false,
		Recommended:      recommended,
		NeverAutoMerge:   binary,
	}
}

func unionSet(a, b FileSet) FileSet {
	out := make(FileSet, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
