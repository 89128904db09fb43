package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/fitgate/internal/common"
	"example.com/fitgate/internal/store"
)

func (a *app) openStore() (*store.Bolt, error) {
	return store.Open(a.storePath, store.Options{
		Catalog: a.catalog,
		Policy:  a.policy,
		Logger:  a.log.WithField("component", "store"),
		EditLog: common.NewEditLog(filepath.Join(filepath.Dir(a.storePath), "edits.jsonl")),
		Metrics: a.metrics,
	})
}

func (a *app) importCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <file.fit>...",
		Short: "Add activity files to the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != "" && len(args) > 1 {
				return errors.New("--name needs exactly one file")
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rejected := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				label := name
				if label == "" {
					label = filepath.Base(path)
				}
				act, err := st.Create(ctx, label, data)
				switch {
				case err == nil:
					fmt.Fprintf(a.stdout, "%s\t%s\n", act.ID, label)
				case errors.Is(err, store.ErrDuplicate):
					fmt.Fprintf(a.stdout, "%s\t%s (duplicate)\n", act.ID, label)
				default:
					fmt.Fprintf(a.stderr, "%s: %v\n", path, err)
					rejected++
				}
			}
			if rejected > 0 {
				return fmt.Errorf("%d of %d files rejected", rejected, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (default file name)")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored activities, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			list, err := st.List(context.Background())
			if err != nil {
				return err
			}
			if asJSON {
				return a.writeJSON(list)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSPORT\tSTART\tDURATION\tDISTANCE\tLAPS")
			for _, act := range list {
				start := ""
				if !act.Start.IsZero() {
					start = act.Start.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.0f m\t%d\n",
					act.ID, act.Name, act.Sport, start,
					time.Duration(act.Duration*float64(time.Second)), act.Distance, act.Laps)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write the stored bytes of an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			raw, err := st.Raw(context.Background(), args[0])
			if err != nil {
				return err
			}
			w, err := a.openOutput(out)
			if err != nil {
				return err
			}
			if _, err := w.Write(raw); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Remove activities from the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			for _, id := range args {
				if err := st.Delete(context.Background(), id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [id]",
		Short: "Show the edit log, optionally for one activity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := common.ReadEditLog(filepath.Join(filepath.Dir(a.storePath), "edits.jsonl"))
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTIVITY\tEDIT\tAPPLIED\tPARAMS")
			for _, e := range entries {
				if len(args) == 1 && e.Activity != args[0] {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%v\n", e.Ts.UTC().Format(time.RFC3339), e.Activity, e.Edit, e.Applied, e.Params)
			}
			return tw.Flush()
		},
	}
}
