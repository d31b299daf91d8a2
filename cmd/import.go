package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/ingest"
	"github.com/sells-group/outreach-engine/internal/model"
)

var (
	importPath   string
	importSource string
	importSheet  string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import leads from a CSV or XLSX file",
	Long:  "Parses a lead list, admits each row through deduplication and reconciliation, and reports how many leads were created versus merged.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := ingest.Options{Source: importSource}

		var observations []model.Observation
		switch strings.ToLower(filepath.Ext(importPath)) {
		case ".csv":
			f, err := os.Open(importPath)
			if err != nil {
				return eris.Wrap(err, "open csv")
			}
			defer func() { _ = f.Close() }()
			observations, err = ingest.ReadCSV(f, ingest.CSVOptions{Options: opts})
			if err != nil {
				return err
			}
		case ".xlsx":
			observations, err = ingest.ReadXLSX(importPath, ingest.XLSXOptions{Options: opts, SheetName: importSheet})
			if err != nil {
				return err
			}
		default:
			return eris.Errorf("unsupported file type: %s", importPath)
		}

		created, merged, failed := 0, 0, 0
		for _, obs := range observations {
			_, isNew, err := env.Dedupe.Admit(ctx, []model.Observation{obs})
			if err != nil {
				failed++
				zap.L().Warn("row rejected", zap.Error(err))
				continue
			}
			if isNew {
				created++
			} else {
				merged++
			}
		}

		zap.L().Info("import complete",
			zap.String("file", importPath),
			zap.Int("created", created),
			zap.Int("merged", merged),
			zap.Int("failed", failed),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "file", "", "path to CSV or XLSX file (required)")
	importCmd.Flags().StringVar(&importSource, "source", "import", "source label for imported values")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
