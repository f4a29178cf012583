package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"skillmeat/internal/model"
	"skillmeat/internal/sync"
)

var (
	strategyFlag    string
	autoResolveFlag string
	dryRunFlag      bool
)

var pullCmd = &cobra.Command{
	Use:   "pull <project>",
	Short: "Pull a project's local edits into the collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, args[0], true)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <project>",
	Short: "Push the collection's artifacts out to a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, args[0], false)
	},
}

func init() {
	for _, c := range []*cobra.Command{pullCmd, pushCmd} {
		c.Flags().StringVar(&strategyFlag, "strategy", string(sync.StrategyMerge), "overwrite|merge|fork|prompt")
		c.Flags().StringVar(&autoResolveFlag, "auto-resolve", "", "abort|ours|theirs (non-interactive prompt strategy)")
		c.Flags().BoolVar(&dryRunFlag, "dry-run", false, "preview drift without mutating anything")
	}
}

func runSync(cmd *cobra.Command, project string, pull bool) error {
	coord, st, err := openCoordinator()
	if err != nil {
		return err
	}
	defer st.Close()

	opts := sync.Options{
		Strategy:    sync.Strategy(strategyFlag),
		AutoResolve: sync.AutoResolve(autoResolveFlag),
		DryRun:      dryRunFlag,
	}

	var result *sync.Result
	if pull {
		result, err = coord.SyncFromProject(context.Background(), project, opts)
	} else {
		result, err = coord.SyncToProject(context.Background(), project, opts)
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if result.DryRun {
		fmt.Printf("would sync %d artifact(s):\n", len(result.Preview))
		for _, e := range result.Preview {
			fmt.Printf("  %-30s %s\n", e.Key(), e.Kind)
		}
		return nil
	}

	for _, o := range result.Outcomes {
		line := fmt.Sprintf("%-30s %s", o.Key, o.Status)
		if len(o.Conflicts) > 0 {
			var paths []string
			for _, c := range o.Conflicts {
				paths = append(paths, c.Path)
			}
			line += fmt.Sprintf(" (conflicts: %s)", strings.Join(paths, ", "))
		}
		fmt.Println(line)
	}
	if result.Errors != nil {
		for artifactID, e := range result.Errors.Failures {
			fmt.Printf("%-30s FAILED: %v\n", artifactID, e)
		}
	}

	logger.Info("sync complete", zap.Bool("success", result.Success()), zap.Int("outcomes", len(result.Outcomes)))
	if !result.Success() {
		return fmt.Errorf("sync completed with conflicts or failures")
	}
	return nil
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <project> <type:name> <use-local|use-remote|use-base>",
	Short: "Resolve a pending conflict recorded against a project's deployment",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, key, resolutionArg := args[0], args[1], args[2]

		coord, st, err := openCoordinator()
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := coord.ResolveConflict(context.Background(), project, key, model.Resolution(resolutionArg), nil)
		if err != nil {
			return fmt.Errorf("resolve conflict: %w", err)
		}
		for _, o := range result.Outcomes {
			fmt.Printf("%-30s %s\n", o.Key, o.Status)
		}
		return nil
	},
}
