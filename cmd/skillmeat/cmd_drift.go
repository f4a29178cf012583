package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"skillmeat/internal/drift"
)

var showDriftDiff bool

var checkDriftCmd = &cobra.Command{
	Use:   "check-drift <project>",
	Short: "Report drift between the collection and a deployed project",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckDrift,
}

func init() {
	checkDriftCmd.Flags().BoolVar(&showDriftDiff, "diff", false, "print a unified diff for each modified, outdated or conflicted artifact")
}

func runCheckDrift(cmd *cobra.Command, args []string) error {
	project := args[0]

	coord, st, err := openCoordinator()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := coord.CheckDrift(project)
	if err != nil {
		return fmt.Errorf("check drift: %w", err)
	}
	logger.Info("drift check complete", zap.Int("entries", len(entries)))

	if len(entries) == 0 {
		fmt.Println("no drift detected")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-30s %-18s %s\n", e.Key(), e.Kind, e.Recommendation)
		if !showDriftDiff || (e.Kind != drift.KindModified && e.Kind != drift.KindOutdated && e.Kind != drift.KindConflict) {
			continue
		}
		preview, err := coord.PreviewDiff(project, e.ArtifactType, e.Name)
		if err != nil {
			return fmt.Errorf("preview diff for %s: %w", e.Key(), err)
		}
		for _, f := range preview.FilesModified {
			if f.UnifiedDiff != "" {
				fmt.Println(f.UnifiedDiff)
			}
		}
	}
	return nil
}
