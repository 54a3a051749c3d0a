package evalcmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/shelfscan/internal/eval/results"
)

// NewReportCmd prints a saved evaluation.
func NewReportCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report <results.yaml>",
		Short: "Print a saved evaluation as text, JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeReport(args[0], format, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json, csv)")
	return cmd
}

func executeReport(path, format string, out io.Writer) error {
	doc, err := results.Load(path)
	if err != nil {
		return err
	}

	switch format {
	case "text":
		return printTextReport(doc, out)
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(doc)
	case "csv":
		return printCSVReport(doc, out)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printTextReport(doc *results.EvalRun, out io.Writer) error {
	fmt.Fprintln(out, strings.Repeat("=", 40))
	fmt.Fprintln(out, "Shelf Detection Evaluation Report")
	fmt.Fprintln(out, strings.Repeat("=", 40))
	fmt.Fprintf(out, "Provider:  %s\n", doc.Config.Provider)
	fmt.Fprintf(out, "Model:     %s\n", doc.Config.Model)
	fmt.Fprintf(out, "Dataset:   %s\n", doc.Config.DatasetPath)
	fmt.Fprintf(out, "Run:       %s\n\n", doc.Config.Timestamp)

	s := doc.Summary
	fmt.Fprintf(out, "Shelves:   %d (%d failed)\n", s.Shelves, s.Failed)
	fmt.Fprintf(out, "Precision: %.2f%%\n", s.Precision*100)
	fmt.Fprintf(out, "Recall:    %.2f%%\n", s.Recall*100)
	fmt.Fprintf(out, "F1:        %.3f (macro %.3f)\n", s.F1, s.MacroF1)

	for i, r := range doc.Results {
		fmt.Fprintf(out, "\n[%d] %s\n", i+1, r.Identifier)
		if r.Error != "" {
			fmt.Fprintf(out, "  Error: %s\n", r.Error)
			continue
		}
		fmt.Fprintf(out, "  F1 %.2f  precision %.2f  recall %.2f\n", r.F1, r.Precision, r.Recall)
		if len(r.Missed) > 0 {
			fmt.Fprintf(out, "  Missed:   %s\n", strings.Join(r.Missed, "; "))
		}
		if len(r.Spurious) > 0 {
			fmt.Fprintf(out, "  Spurious: %s\n", strings.Join(r.Spurious, "; "))
		}
	}
	return nil
}

func printCSVReport(doc *results.EvalRun, out io.Writer) error {
	writer := csv.NewWriter(out)

	if err := writer.Write([]string{"ID", "Precision", "Recall", "F1", "Detected", "Missed", "Spurious", "Seconds", "Error"}); err != nil {
		return err
	}
	for _, r := range doc.Results {
		row := []string{
			r.Identifier,
			fmt.Sprintf("%.4f", r.Precision),
			fmt.Sprintf("%.4f", r.Recall),
			fmt.Sprintf("%.4f", r.F1),
			fmt.Sprint(len(r.Detected)),
			fmt.Sprint(len(r.Missed)),
			fmt.Sprint(len(r.Spurious)),
			fmt.Sprintf("%.2f", r.Seconds),
			r.Error,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
