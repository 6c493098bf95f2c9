package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docverify/internal/classify"
	"github.com/JakeFAU/docverify/internal/document"
)

type acquireOptions struct {
	sheet   string
	row     int
	url     string
	timeout time.Duration
	out     string
}

// acquireOutput is printed by the acquire command.
type acquireOutput struct {
	Handle   *document.DocumentHandle `json:"handle,omitempty"`
	Failure  *document.FailureRecord  `json:"failure,omitempty"`
	Label    string                   `json:"label,omitempty"`
	Guidance string                   `json:"guidance,omitempty"`
	Saved    string                   `json:"saved,omitempty"`
}

func newAcquireCmd() *cobra.Command {
	opts := &acquireOptions{}
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Fetch the document for one row and print the handle or failure",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAcquire(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "sheet name (required)")
	cmd.Flags().IntVar(&opts.row, "row", 0, "row number")
	cmd.Flags().StringVar(&opts.url, "url", "", "document URL (required)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "direct fetch timeout (defaults to fetch.timeout)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the document bytes to this file")
	_ = cmd.MarkFlagRequired("sheet")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runAcquire(cmd *cobra.Command, opts *acquireOptions) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	outcome, err := rt.app.Service().Acquire(cmd.Context(), opts.sheet, opts.row, opts.url, opts.timeout)
	if err != nil {
		return err
	}

	out := acquireOutput{Handle: outcome.Handle, Failure: outcome.Failure}
	if outcome.Failure != nil {
		out.Label = classify.Label(outcome.Failure.Category)
		out.Guidance = classify.Guidance(outcome.Failure.Category)
	}
	if outcome.OK() && opts.out != "" {
		if err := os.WriteFile(opts.out, outcome.Handle.Bytes, 0o600); err != nil {
			return fmt.Errorf("write document: %w", err)
		}
		out.Saved = opts.out
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
