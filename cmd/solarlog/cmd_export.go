package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nicktill/solarlog/pkg/export"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

var exportFlags struct {
	format string
	output string
	start  string
	end    string
	fields string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the telemetry log",
	Long: `Write the log to a file or stdout. "raw" is the stored delta log,
"json" and "csv" contain fully reconstructed samples.`,
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a JSON export or raw log",
	Long: `Replay a JSON export or a raw log through the delta codec. Samples
that are not newer than the newest stored sample are rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFlags.format, "format", "f", export.FormatRaw, "raw, json or csv")
	exportCmd.Flags().StringVarP(&exportFlags.output, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportFlags.start, "start", "", "first timestamp to include (json and csv)")
	exportCmd.Flags().StringVar(&exportFlags.end, "end", "", "last timestamp to include (json and csv)")
	exportCmd.Flags().StringVar(&exportFlags.fields, "fields", "", "comma-separated CSV columns (default: chart fields)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	opts, err := exportOptions()
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if len(opts.Fields) == 0 {
		opts.Fields = a.cfg.ChartFields()
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportFlags.output != "" {
		f, err := os.Create(exportFlags.output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	exporter := export.NewExporter(a.eng)

	var result *export.ExportResult
	switch exportFlags.format {
	case export.FormatRaw:
		result, err = exporter.ExportRaw(cmd.Context(), w)
	case export.FormatJSON:
		result, err = exporter.ExportToJSON(cmd.Context(), w, opts)
	case export.FormatCSV:
		result, err = exporter.ExportToCSV(cmd.Context(), w, opts)
	default:
		return fmt.Errorf("invalid format %q: must be raw, json or csv", exportFlags.format)
	}
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	a.log.Infow("export_finished",
		"format", result.Format,
		"samples", result.SamplesExported,
		"bytes", result.BytesWritten,
		"output", exportFlags.output)
	return nil
}

func exportOptions() (export.ExportOptions, error) {
	var opts export.ExportOptions
	var err error

	if exportFlags.start != "" {
		if opts.Start, err = telemetry.ParseTimestamp(exportFlags.start); err != nil {
			return opts, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if exportFlags.end != "" {
		if opts.End, err = telemetry.ParseTimestamp(exportFlags.end); err != nil {
			return opts, fmt.Errorf("invalid --end: %w", err)
		}
	}
	if exportFlags.fields != "" {
		opts.Fields = strings.Split(exportFlags.fields, ",")
	}
	return opts, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := export.NewImporter(a.eng, a.log).Import(cmd.Context(), f)
	if result != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Batch %s: %d received, %d full, %d delta, %d skipped, %d rejected\n",
			result.BatchID, result.Received, result.Full, result.Delta, result.Skipped, result.Rejected)
		for _, msg := range result.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", msg)
		}
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return nil
}
