package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/insect-identifier/internal/utils"
	"github.com/menta2k/insect-identifier/pkg/analysis"
	"github.com/menta2k/insect-identifier/pkg/types"
)

func identifyCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "identify <image path or URL>",
		Short: "Identify the insect in a photo and add it to the collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, closer, err := a.identifier(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closer.Close()

			state, record, err := id.IdentifyFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), state, record, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func snapCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Take a photo with the configured camera and identify it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bridge, err := a.bridge()
			if err != nil {
				return err
			}
			id, closer, err := a.identifier(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closer.Close()

			state, record, err := id.CaptureAndIdentify(cmd.Context(), bridge)
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), state, record, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func listCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List captured insects, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, closer, err := a.identifier(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closer.Close()

			records := id.Store().List()
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No captures yet.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCAPTURED\tNAME\tDANGER")
			for _, r := range records {
				danger := "-"
				if r.IsAnalyzed() {
					danger = string(r.BugResult.DangerLevel)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.CapturedAt.Local().Format(time.DateTime), r.CommonName, danger)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func showCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <record id>",
		Short: "Show one captured insect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, closer, err := a.identifier(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closer.Close()

			record, ok := id.Store().Get(args[0])
			if !ok {
				return fmt.Errorf("no record with id %s", args[0])
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, record)
			}

			fmt.Fprintf(out, "ID:        %s\n", record.ID)
			fmt.Fprintf(out, "Captured:  %s\n", record.CapturedAt.Local().Format(time.DateTime))
			if record.HasImage() {
				size := "missing"
				if info, err := os.Stat(record.ImagePath); err == nil {
					size = utils.FormatFileSize(info.Size())
				}
				fmt.Fprintf(out, "Image:     %s (%s)\n", record.ImagePath, size)
			}
			if record.IsAnalyzed() {
				fmt.Fprintln(out)
				printResult(out, record.BugResult)
			} else {
				fmt.Fprintf(out, "Name:      %s\n", record.CommonName)
				fmt.Fprintln(out, "Not analysed yet; run 'insectid analyze "+record.ID+"'.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

func analyzeCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze <record id>",
		Short: "Identify a stored capture again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, closer, err := a.identifier(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closer.Close()

			state, err := id.AnalyzeRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), state, nil, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func removeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <record id>...",
		Aliases: []string{"rm"},
		Short:   "Remove captures and their images",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, closer, err := a.identifier(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closer.Close()

			for _, recordID := range args {
				if err := id.RemoveRecord(cmd.Context(), recordID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Removed", recordID)
			}
			return nil
		},
	}
}

func clearCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every capture and image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the collection without --yes")
			}
			id, closer, err := a.identifier(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closer.Close()

			n := id.Store().Len()
			if err := id.ClearRecords(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d captures\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}

// outcome is the JSON form of one attempt
type outcome struct {
	Status  analysis.Status       `json:"status"`
	Result  *types.AnalysisResult `json:"result,omitempty"`
	Message string                `json:"message,omitempty"`
	Kind    string                `json:"error_kind,omitempty"`
	Record  *types.CapturedRecord `json:"record,omitempty"`
}

// printOutcome reports a finished attempt. An Error state is printed, not
// returned: the attempt itself ran.
func printOutcome(w io.Writer, state analysis.State, record *types.CapturedRecord, asJSON bool) error {
	if asJSON {
		o := outcome{Status: state.Status, Result: state.Result, Message: state.Message, Record: record}
		if state.Status == analysis.StatusError {
			o.Kind = state.Kind.String()
		}
		return writeJSON(w, o)
	}

	if state.Status != analysis.StatusSuccess {
		fmt.Fprintln(w, state.Message)
		return nil
	}
	printResult(w, state.Result)
	if record != nil {
		fmt.Fprintf(w, "\nSaved as %s\n", record.ID)
	}
	return nil
}

func printResult(w io.Writer, r *types.AnalysisResult) {
	fmt.Fprintf(w, "%s (%s)\n", r.CommonName, r.ScientificName)
	fmt.Fprintln(w, strings.Repeat("-", len(r.CommonName)+len(r.ScientificName)+3))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Danger:\t%s\n", r.DangerLevel)
	fmt.Fprintf(tw, "Pest:\t%s\n", yesNo(r.IsPest))
	fmt.Fprintf(tw, "Life stage:\t%s\n", r.LifeStage)
	fmt.Fprintf(tw, "Habitat:\t%s\n", r.Habitat)
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%s\n", r.DangerDescription)
	fmt.Fprintf(w, "\nWhere to look: %s\n", r.HowToFind)
	fmt.Fprintf(w, "How to remove: %s\n", r.HowToEliminate)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
