package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasgelfond/puffgres/internal/source"
)

func newRunCommand() *cobra.Command {
	var (
		slot         string
		createSlot   bool
		stream       bool
		pollIntervMs int
		strict       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live CDC pipeline from the replication slot into turbopuffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			a.strict = strict

			var src source.Source
			if stream {
				src = source.NewStreamSource(a.adminPool, a.cfg.SourceReplicationDSN, slot)
			} else {
				src = source.NewPollSource(a.adminPool, slot, time.Duration(pollIntervMs)*time.Millisecond)
			}

			return a.buildEngine(src).Run(a.stopper, createSlot)
		},
	}

	cmd.Flags().StringVar(&slot, "slot", "puffgres", "replication slot name")
	cmd.Flags().BoolVar(&createSlot, "create-slot", false, "create the replication slot if it does not exist")
	cmd.Flags().BoolVar(&stream, "stream", false, "use the streaming replication adapter instead of polling")
	cmd.Flags().IntVar(&pollIntervMs, "poll-interval-ms", 0, "poll adapter interval in milliseconds (default 1000)")
	cmd.Flags().BoolVar(&strict, "strict", false, "block a mapping's checkpoint from advancing while it has pending DLQ entries")
	return cmd
}
