package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasgelfond/puffgres/internal/config"
)

func newApplyCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:     "apply",
		Aliases: []string{"migrate"},
		Short:   "Validate and register every mapping file, refusing on content-hash drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return userErr(err)
			}
			cfg.ConfigureLogging()

			ctx := cmd.Context()
			a, err := newAppWithoutApply(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			mappings, err := loadMappingsDir(cfg.MappingsDir)
			if err != nil {
				return userErr(err)
			}

			results, err := a.buildEngine(nil).Apply(ctx, mappings, dryRun)
			if err != nil {
				return userErr(err)
			}

			for _, r := range results {
				verb := "unchanged"
				if r.Changed {
					verb = "applied"
				}
				if dryRun {
					verb = "would apply"
					if !r.Changed {
						verb = "unchanged"
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s v%d: %s (%s)\n", r.Name, r.Version, verb, r.ContentHash[:12])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate mappings and report drift without writing state")
	return cmd
}
