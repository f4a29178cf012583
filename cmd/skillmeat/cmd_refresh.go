package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"skillmeat/internal/refresh"
)

var (
	refreshCheckOnly bool
	refreshFields    []string
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-read upstream metadata for remote-repo and marketplace artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		r := refresh.New(cfg.CollectionPath, filepath.Base(cfg.CollectionPath), cfg.SnapshotsDir)

		mode := refresh.ModeApply
		if refreshCheckOnly {
			mode = refresh.ModeCheck
		}
		var fields []refresh.Field
		for _, f := range refreshFields {
			fields = append(fields, refresh.Field(f))
		}

		report, err := r.Run(context.Background(), refresh.Options{Mode: mode, Fields: fields})
		if err != nil {
			return fmt.Errorf("refresh: %w", err)
		}

		for _, res := range report.Results {
			if res.Skipped {
				fmt.Printf("%-30s skipped: %s\n", res.Key, res.Reason)
				continue
			}
			if len(res.Changes) == 0 {
				fmt.Printf("%-30s up to date\n", res.Key)
				continue
			}
			fmt.Printf("%-30s %d field(s) changed\n", res.Key, len(res.Changes))
			for _, c := range res.Changes {
				fmt.Printf("    %-14s %q -> %q\n", c.Field, c.Old, c.New)
			}
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshCheckOnly, "check", false, "preview changes without writing them")
	refreshCmd.Flags().StringSliceVar(&refreshFields, "fields", nil, "restrict refresh to these whitelist fields")
}
