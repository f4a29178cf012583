package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"skillmeat/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage collection snapshots",
}

var snapshotMessage string

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a snapshot of the current collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := snapshot.Create(cfg.CollectionPath, filepath.Base(cfg.CollectionPath), cfg.SnapshotsDir, snapshotMessage)
		if err != nil {
			return fmt.Errorf("create snapshot: %w", err)
		}
		fmt.Printf("created snapshot %s (%d artifacts, %d bytes)\n", manifest.SnapshotID, manifest.ArtifactCount, manifest.TotalBytes)
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collection snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		manifests, err := snapshot.List(cfg.SnapshotsDir)
		if err != nil {
			return fmt.Errorf("list snapshots: %w", err)
		}
		for _, m := range manifests {
			fmt.Printf("%s  %s  %q\n", m.SnapshotID, m.Created.Format("2006-01-02T15:04:05"), m.Message)
		}
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id>",
	Short: "Restore the collection from a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := snapshot.Restore(cfg.SnapshotsDir, args[0], cfg.CollectionPath); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		fmt.Printf("restored collection from snapshot %s\n", args[0])
		return nil
	},
}

func init() {
	snapshotCreateCmd.Flags().StringVar(&snapshotMessage, "message", "", "snapshot message")
	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotRestoreCmd)
}
