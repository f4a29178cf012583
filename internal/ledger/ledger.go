// Package ledger implements the Deployment Ledger (C4): a per-project
// record of which artifacts have been deployed, at which version, and
// their current sync status. It is the project-side counterpart to the
// collection-side manifest package, sharing its atomic-write discipline.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"skillmeat/internal/logging"
	"skillmeat/internal/model"
)

// FileName is the conventional ledger file dropped at a project root.
const FileName = ".skillmeat-deployed.toml"

type ledgerHeader struct {
	FormatVersion int       `toml:"format_version"`
	Updated       time.Time `toml:"updated"`
}

type onDisk struct {
	Ledger      ledgerHeader              `toml:"ledger"`
	Deployments []model.DeploymentRecord  `toml:"deployments"`
}

const CurrentFormatVersion = 1

// Ledger is the fully-populated in-memory deployment ledger for one
// project directory.
type Ledger struct {
	ProjectRoot string

	FormatVersion int
	Updated       time.Time
	Deployments   []model.DeploymentRecord
}

func path(projectRoot string) string {
	return filepath.Join(projectRoot, FileName)
}

// Exists is a pure filesystem check for the ledger's presence.
func Exists(projectRoot string) bool {
	_, err := os.Stat(path(projectRoot))
	return err == nil
}

// Load reads the ledger at projectRoot. A missing ledger is not an error:
// it returns a fresh, empty Ledger, since an undeployed project is a valid
// starting state (spec.md §4.4).
func Load(projectRoot string) (*Ledger, error) {
	timer := logging.StartTimer(logging.CategoryLedger, "ledger.Load")
	defer timer.Stop()

	data, err := os.ReadFile(path(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return &Ledger{
				ProjectRoot:   projectRoot,
				FormatVersion: CurrentFormatVersion,
			}, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", path(projectRoot), err)
	}

	var od onDisk
	if _, err := toml.Decode(string(data), &od); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path(projectRoot), err)
	}

	return &Ledger{
		ProjectRoot:   projectRoot,
		FormatVersion: od.Ledger.FormatVersion,
		Updated:       od.Ledger.Updated,
		Deployments:   od.Deployments,
	}, nil
}

// Save writes the ledger atomically (write-temp, fsync, rename).
func (l *Ledger) Save() error {
	timer := logging.StartTimer(logging.CategoryLedger, "ledger.Save")
	defer timer.Stop()

	l.Updated = time.Now()
	if l.FormatVersion == 0 {
		l.FormatVersion = CurrentFormatVersion
	}

	od := onDisk{
		Ledger: ledgerHeader{
			FormatVersion: l.FormatVersion,
			Updated:       l.Updated,
		},
		Deployments: l.Deployments,
	}

	dir := l.ProjectRoot
	tmp, err := os.CreateTemp(dir, ".skillmeat-deployed-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(od); err != nil {
		tmp.Close()
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}

	if err := os.Rename(tmpPath, path(l.ProjectRoot)); err != nil {
		return fmt.Errorf("rename ledger into place: %w", err)
	}

	logging.Get(logging.CategoryLedger).StructuredLog("info", "ledger saved", map[string]interface{}{
		"project":     l.ProjectRoot,
		"deployments": len(l.Deployments),
	})
	return nil
}

// Find returns the deployment record for the given (type, name) key.
func (l *Ledger) Find(key string) (model.DeploymentRecord, bool) {
	for _, d := range l.Deployments {
		if d.Key() == key {
			return d, true
		}
	}
	return model.DeploymentRecord{}, false
}

// Record upserts a deployment record, replacing any existing entry for the
// same (type, name) key.
func (l *Ledger) Record(d model.DeploymentRecord) {
	for i, existing := range l.Deployments {
		if existing.Key() == d.Key() {
			l.Deployments[i] = d
			return
		}
	}
	l.Deployments = append(l.Deployments, d)
}

// Remove deletes the deployment record matching key, if present, e.g. when
// an artifact is undeployed from a project.
func (l *Ledger) Remove(key string) bool {
	for i, d := range l.Deployments {
		if d.Key() == key {
			l.Deployments = append(l.Deployments[:i], l.Deployments[i+1:]...)
			return true
		}
	}
	return false
}

// SetSyncStatus updates the sync status of an existing deployment record
// in place, e.g. after a drift check or conflict resolution.
func (l *Ledger) SetSyncStatus(key string, status model.SyncStatus, pendingConflicts []string) bool {
	for i, d := range l.Deployments {
		if d.Key() == key {
			l.Deployments[i].SyncStatus = status
			l.Deployments[i].PendingConflicts = pendingConflicts
			return true
		}
	}
	return false
}
