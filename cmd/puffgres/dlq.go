package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/dlq"
	"github.com/lucasgelfond/puffgres/internal/mapping"
	"github.com/lucasgelfond/puffgres/internal/transform"
)

// registryTransformer dispatches each call to the mapping's own
// registered transform (or Identity, if it has none), since a single
// dlq.Manager retries entries spanning every mapping and each one may
// carry a different transform.
type registryTransformer struct {
	transforms *transform.Registry
}

func (t registryTransformer) Transform(ctx context.Context, ictx transform.InvocationContext, m *mapping.Mapping, items []transform.Item) ([]action.Action, error) {
	if m.Transform == nil {
		return transform.Identity{}.Transform(ctx, ictx, m, items)
	}
	exec, err := t.transforms.Executor(m.Name, m.Version)
	if err != nil {
		return nil, err
	}
	return exec.Transform(ctx, ictx, m, items)
}

func newDLQCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay the dead-letter queue",
	}
	cmd.AddCommand(newDLQListCommand(), newDLQShowCommand(), newDLQRetryCommand(), newDLQClearCommand())
	return cmd
}

func newManager(a *app) *dlq.Manager {
	eng := a.buildEngine(nil)
	return &dlq.Manager{
		Store:       a.store,
		Registry:    a.registry,
		Transformer: registryTransformer{transforms: a.transforms},
		Invocation: func(m *mapping.Mapping) transform.InvocationContext {
			return transform.InvocationContext{
				MappingName: m.Name,
				Namespace:   m.Target.Namespace,
				Relation:    m.SourceRelation,
				Env:         envMap(),
				Lookup:      eng.Lookup,
			}
		},
		Writer: eng.Writer,
	}
}

func newDLQListCommand() *cobra.Command {
	var (
		mappingName string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := newManager(a).List(ctx, mappingName, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMAPPING\tERROR\tRETRIES\tCREATED AT")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", e.ID, e.MappingName, e.ErrorMessage, e.RetryCount, e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&mappingName, "mapping", "", "limit to a single mapping")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to list (default 100)")
	return cmd
}

func newDLQShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one dead-lettered entry's full payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			entry, found, err := newManager(a).Show(ctx, id)
			if err != nil {
				return err
			}
			if !found {
				return userErr(fmt.Errorf("dlq entry %d not found", id))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "id:          %d\n", entry.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "mapping:     %s\n", entry.MappingName)
			fmt.Fprintf(cmd.OutOrStdout(), "lsn:         %d\n", entry.LSN)
			fmt.Fprintf(cmd.OutOrStdout(), "error kind:  %s\n", entry.ErrorKind)
			fmt.Fprintf(cmd.OutOrStdout(), "error:       %s\n", entry.ErrorMessage)
			fmt.Fprintf(cmd.OutOrStdout(), "retries:     %d\n", entry.RetryCount)
			fmt.Fprintf(cmd.OutOrStdout(), "created at:  %s\n", entry.CreatedAt)
			fmt.Fprintf(cmd.OutOrStdout(), "event:       %s\n", entry.EventJSON)
			return nil
		},
	}
}

func newDLQRetryCommand() *cobra.Command {
	var (
		id          int64
		mappingName string
	)
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Replay one or every DLQ entry for a mapping through the Transform->Batch->Write path",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			mgr := newManager(a)
			switch {
			case id != 0:
				if err := mgr.RetryByID(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "retried entry %d\n", id)
			case mappingName != "":
				n, err := mgr.RetryByMapping(ctx, mappingName)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "retried %d entries for %s\n", n, mappingName)
			default:
				return userErr(fmt.Errorf("retry requires --id or --mapping"))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "retry a single entry by id")
	cmd.Flags().StringVar(&mappingName, "mapping", "", "retry every pending entry for a mapping")
	return cmd
}

func newDLQClearCommand() *cobra.Command {
	var (
		id          int64
		mappingName string
		all         bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete DLQ entries without retrying them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if id == 0 && mappingName == "" && !all {
				return userErr(fmt.Errorf("clear requires --id, --mapping, or --all"))
			}

			var idPtr *int64
			if id != 0 {
				idPtr = &id
			}
			if err := newManager(a).Clear(ctx, mappingName, idPtr); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "clear a single entry by id")
	cmd.Flags().StringVar(&mappingName, "mapping", "", "clear every entry for a mapping")
	cmd.Flags().BoolVar(&all, "all", false, "clear every entry for every mapping")
	return cmd
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, userErr(fmt.Errorf("invalid id %q", s))
	}
	return id, nil
}
