package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"example.com/fitgate/internal/common"
	"example.com/fitgate/internal/edit"
	"example.com/fitgate/internal/fit"
	"example.com/fitgate/internal/report"
	"example.com/fitgate/internal/store"
)

func (a *app) decodeCmd() *cobra.Command {
	var name, out string
	cmd := &cobra.Command{
		Use:   "decode <file.fit>",
		Short: "Print every decoded message as one JSON object per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, res, err := a.decodeFile(args[0])
			if res == nil {
				return err
			}
			a.printIssues(res)
			w, oerr := a.openOutput(out)
			if oerr != nil {
				return oerr
			}
			defer w.Close()
			enc := json.NewEncoder(w)
			for _, f := range res.Files() {
				for _, m := range f.Messages() {
					if name != "" && m.Name != name {
						continue
					}
					if werr := enc.Encode(m.View()); werr != nil {
						return werr
					}
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "only print messages with this name")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file.fit>...",
		Short: "Check that files decode cleanly and survive a re-encode unchanged",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				if err := a.verifyOne(path); err != nil {
					fmt.Fprintf(a.stdout, "%s: FAIL %v\n", path, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func (a *app) verifyOne(path string) error {
	_, res, err := a.decodeFile(path)
	if err != nil {
		return err
	}
	a.printIssues(res)
	files := res.Files()
	encoded, err := fit.MarshalAll(files...)
	if err != nil {
		return fmt.Errorf("re-encode: %w", err)
	}
	again, err := a.decoder().DecodeBytes(encoded)
	if err != nil {
		return fmt.Errorf("decode re-encoded stream: %w", err)
	}
	if diff := cmp.Diff(views(files), views(again.Files())); diff != "" {
		return fmt.Errorf("re-encoded stream differs (-decoded +re-encoded):\n%s", diff)
	}
	sum, size, err := common.Sha256OfFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: ok, %s, %d messages, %d discarded, %d issues, sha256 %s\n",
		path, common.FormatBytes(size), countMessages(res), res.Discarded, len(res.Issues), sum)
	return nil
}

func views(files []*fit.File) [][]fit.MessageView {
	out := make([][]fit.MessageView, len(files))
	for i, f := range files {
		for _, m := range f.Messages() {
			out[i] = append(out[i], m.View())
		}
	}
	return out
}

// editedName turns ride.fit into ride.<suffix>.fit.
func editedName(in, suffix string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + "." + suffix + ext
}

// applyEdits decodes in, runs the edits on its first section and writes the
// result to out.
func (a *app) applyEdits(in, out string, edits ...edit.Edit) error {
	_, res, err := a.decodeFile(in)
	if err != nil {
		return err
	}
	a.printIssues(res)
	edited, err := edit.Apply(res.File, edits...)
	if err != nil {
		return err
	}
	data, err := fit.MarshalAll(append([]*fit.File{edited}, res.Chained...)...)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	w, err := a.openOutput(out)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// runEdit applies edits to the file in args, or to the stored activity id
// when args is empty.
func (a *app) runEdit(args []string, id, out, suffix string, edits ...edit.Edit) error {
	switch {
	case id != "" && len(args) == 0:
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		act, err := st.Update(context.Background(), id, edits...)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "updated %s, sha256 %s\n", act.ID, act.Hash)
		return nil
	case id == "" && len(args) == 1:
		if out == "" {
			out = editedName(args[0], suffix)
		}
		if err := a.applyEdits(args[0], out, edits...); err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "wrote %s\n", out)
		return nil
	default:
		return fmt.Errorf("give either a FIT file or --id")
	}
}

func (a *app) removeGapsCmd() *cobra.Command {
	var threshold time.Duration
	var out, id string
	cmd := &cobra.Command{
		Use:   "remove-gaps [file.fit]",
		Short: "Collapse pauses between records to one second",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEdit(args, id, out, "nogaps", edit.RemoveGaps{Threshold: threshold})
		},
	}
	cmd.Flags().DurationVar(&threshold, "threshold", time.Minute, "smallest pause to collapse")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <name>.nogaps.fit, - for stdout)")
	cmd.Flags().StringVar(&id, "id", "", "edit a stored activity instead of a file")
	return cmd
}

func (a *app) splitLapCmd() *cobra.Command {
	var record int
	var out, id string
	cmd := &cobra.Command{
		Use:   "split-lap [file.fit]",
		Short: "Split the lap containing a record into two laps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("record") {
				return fmt.Errorf("required: --record")
			}
			split := &edit.SplitLap{Record: record, Catalog: a.catalog}
			if err := a.runEdit(args, id, out, "split", split); err != nil {
				return err
			}
			if !split.Applied() {
				fmt.Fprintf(a.stderr, "record %d opens its lap or lies outside every lap; nothing changed\n", record)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&record, "record", 0, "index of the first record of the new lap")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <name>.split.fit, - for stdout)")
	cmd.Flags().StringVar(&id, "id", "", "edit a stored activity instead of a file")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	var out, lang, summaryOut, summaryIn string
	cmd := &cobra.Command{
		Use:   "report [file.fit]",
		Short: "Render a PDF summary of an activity file or a saved summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			language, err := report.ParseLanguage(lang)
			if err != nil {
				return err
			}
			var summary report.Summary
			var source string
			switch {
			case summaryIn != "" && len(args) == 0:
				if summary, err = report.LoadSummaryJSON(summaryIn); err != nil {
					return err
				}
				source = summaryIn
			case summaryIn == "" && len(args) == 1:
				if summary, err = a.summarize(args[0]); err != nil {
					return err
				}
				source = args[0]
			default:
				return fmt.Errorf("give either a FIT file or --from-summary")
			}
			if summaryOut != "" {
				if err := report.SaveSummaryJSON(summary, summaryOut); err != nil {
					return err
				}
			}
			if out == "" {
				out = strings.TrimSuffix(source, filepath.Ext(source)) + ".pdf"
			}
			w, err := a.openOutput(out)
			if err != nil {
				return err
			}
			if err := report.Render(w, summary, language); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "PDF output (default <name>.pdf)")
	cmd.Flags().StringVar(&lang, "lang", "en", "report language (en, de)")
	cmd.Flags().StringVar(&summaryOut, "summary-json", "", "also write the summary as JSON")
	cmd.Flags().StringVar(&summaryIn, "from-summary", "", "render a summary saved with --summary-json")
	return cmd
}

func (a *app) summarize(path string) (report.Summary, error) {
	data, res, err := a.decodeFile(path)
	if err != nil {
		return report.Summary{}, err
	}
	a.printIssues(res)
	act := store.Activity{
		Name:      filepath.Base(path),
		Size:      len(data),
		Hash:      common.Sha256Hex(data),
		Discarded: res.Discarded,
		Issues:    res.Warnings(),
	}
	store.Project(&act, res.File)
	return report.NewSummary(act, res.File), nil
}
