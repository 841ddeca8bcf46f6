package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "puffgres",
		Short:         "Replicate Postgres changes into turbopuffer namespaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newInitCommand(),
		newApplyCommand(),
		newRunCommand(),
		newBackfillCommand(),
		newStatusCommand(),
		newDLQCommand(),
	)

	return root
}
