package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/verify"
	"github.com/JakeFAU/docverify/internal/workbook"
)

type batchOptions struct {
	sheet         string
	urlColumn     string
	glossarySheet string
	concurrency   int
}

// batchLine is one JSON line of batch output.
type batchLine struct {
	Sheet    string                   `json:"sheet"`
	Row      int                      `json:"row"`
	URL      string                   `json:"url"`
	Source   document.Source          `json:"source,omitempty"`
	Failure  *document.FailureRecord  `json:"failure,omitempty"`
	Eligible []document.EligibleField `json:"eligible_fields,omitempty"`
	Verdict  *document.Verdict        `json:"verdict,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func newBatchCmd() *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch <workbook.xlsx>",
		Short: "Verify every row of a workbook and print one JSON line per row plus a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "data sheet (defaults to the first non-glossary sheet)")
	cmd.Flags().StringVar(&opts.urlColumn, "url-column", "", "header of the URL column (defaults to batch.url_column)")
	cmd.Flags().StringVar(&opts.glossarySheet, "glossary-sheet", "", "glossary sheet name (defaults to batch.glossary_sheet)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "rows verified in parallel (defaults to batch.concurrency)")
	return cmd
}

func runBatch(cmd *cobra.Command, path string, opts *batchOptions) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	wbOpts := workbook.Options{
		Sheet:         opts.sheet,
		URLColumn:     firstNonEmpty(opts.urlColumn, rt.cfg.Batch.URLColumn),
		GlossarySheet: firstNonEmpty(opts.glossarySheet, rt.cfg.Batch.GlossarySheet),
	}
	wb, err := workbook.Load(path, wbOpts)
	if err != nil {
		return err
	}
	concurrency := opts.concurrency
	if concurrency <= 0 {
		concurrency = rt.cfg.Batch.Concurrency
	}
	rt.logger.Info("batch verification started",
		zap.String("workbook", path),
		zap.String("sheet", wb.Sheet),
		zap.Int("rows", len(wb.Rows)),
		zap.Int("glossary_entries", len(wb.Glossary)),
		zap.Int("concurrency", concurrency),
	)

	reqs := make([]verify.Request, 0, len(wb.Rows))
	for _, row := range wb.Rows {
		reqs = append(reqs, verify.Request{
			Sheet:    row.Sheet,
			Row:      row.Index,
			URL:      row.URL,
			Fields:   row.Fields,
			Glossary: wb.Glossary,
		})
	}
	results, batchErr := rt.app.Service().Batch(cmd.Context(), reqs, concurrency)

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range results {
		if err := enc.Encode(toBatchLine(r)); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	summary := verify.Summarize(results)
	if err := enc.Encode(map[string]verify.Summary{"summary": summary}); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	rt.logger.Info("batch verification finished",
		zap.Int("acquired", summary.Acquired),
		zap.Int("failed", summary.Failed),
		zap.Int("interrupted", summary.Interrupted),
	)
	if batchErr != nil {
		return fmt.Errorf("batch interrupted: %w", batchErr)
	}
	return nil
}

func toBatchLine(r verify.BatchResult) batchLine {
	line := batchLine{
		Sheet:    r.Request.Sheet,
		Row:      r.Request.Row,
		URL:      r.Request.URL,
		Failure:  r.Result.Failure,
		Eligible: r.Result.Eligible,
		Verdict:  r.Result.Verdict,
	}
	if r.Result.Handle != nil {
		line.Source = r.Result.Handle.Source
	}
	if r.Err != nil {
		line.Error = r.Err.Error()
	}
	return line
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
