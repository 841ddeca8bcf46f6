package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasgelfond/puffgres/internal/backfill"
	"github.com/lucasgelfond/puffgres/internal/router"
	"github.com/lucasgelfond/puffgres/internal/state"
	"github.com/lucasgelfond/puffgres/internal/transform"
	"github.com/lucasgelfond/puffgres/internal/util/notify"
)

func newBackfillCommand() *cobra.Command {
	var (
		batchSize int
		resume    bool
	)

	cmd := &cobra.Command{
		Use:   "backfill <mapping>",
		Short: "Backfill a mapping's source relation into its target namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			m, ok := latestMapping(a, args[0])
			if !ok {
				return userErr(fmt.Errorf("mapping %q is not currently applied", args[0]))
			}

			var t transform.Transformer = transform.Identity{}
			if m.Transform != nil {
				exec, err := a.transforms.Executor(m.Name, m.Version)
				if err != nil {
					return err
				}
				t = exec
			}

			lookup := a.buildEngine(nil)
			progress := &notify.Var[state.BackfillCursor]{}
			eng := &backfill.Engine{
				Reader:      backfill.NewPgPageReader(a.adminPool),
				Cursors:     a.store,
				Router:      router.New(a.registry, lookup.Lookup),
				Transformer: t,
				Invocation: transform.InvocationContext{
					MappingName: m.Name,
					Namespace:   m.Target.Namespace,
					Relation:    m.SourceRelation,
					Env:         envMap(),
					Lookup:      lookup.Lookup,
				},
				Writer:    lookup.Writer,
				BatchSize: batchSize,
				Progress:  progress,
			}

			done := make(chan struct{})
			go reportBackfillProgress(cmd, progress, done)
			err = eng.Run(ctx, m, resume)
			close(done)
			return err
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", backfill.DefaultBatchSize, "rows read per page")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the last persisted cursor instead of restarting")
	return cmd
}

// reportBackfillProgress prints a line to stderr each time the
// backfill engine publishes a new cursor, blocking on its wakeup
// channel rather than polling. It exits when done is closed.
func reportBackfillProgress(cmd *cobra.Command, progress *notify.Var[state.BackfillCursor], done <-chan struct{}) {
	c, wake := progress.Get()
	for {
		if c.ProcessedRows > 0 || c.Status != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "backfill %s: %s, last_id=%s, processed=%d\n",
				c.MappingName, c.Status, c.LastID, c.ProcessedRows)
		}
		select {
		case <-wake:
			c, wake = progress.Get()
		case <-done:
			return
		}
	}
}
