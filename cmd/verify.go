package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docverify/internal/verify"
)

func newVerifyCmd() *cobra.Command {
	var (
		req     verify.Request
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Acquire a row's document, extract its text and evaluate readability",
		Example: `  docverify verify --sheet Contracts --row 2 \
    --url https://files.example.com/c-2024-001.pdf \
    --field Vendor="ACME Corp" --field "Contract Number=C-2024-001"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			req.Timeout = timeout
			res, err := rt.app.Service().Verify(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&req.Sheet, "sheet", "", "sheet name (required)")
	cmd.Flags().IntVar(&req.Row, "row", 0, "row number")
	cmd.Flags().StringVar(&req.URL, "url", "", "document URL (required)")
	cmd.Flags().StringToStringVar(&req.Fields, "field", nil, "row field as name=value, repeatable")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "direct fetch timeout (defaults to fetch.timeout)")
	_ = cmd.MarkFlagRequired("sheet")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
