package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/esign/internal/verify"
)

func newVerifyCmd(c *cli) *cobra.Command {
	var pdfPath, spfPath, hash string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signed document against its signing proof",
		Long: "With --hash the document is checked against the binding hash recorded at send time. " +
			"Without it the reconstructed hashes are printed for manual comparison.",
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			doc, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("failed to read pdf: %w", err)
			}
			spf, err := os.ReadFile(spfPath)
			if err != nil {
				return fmt.Errorf("failed to read proof: %w", err)
			}
			var res verify.Result
			if hash != "" {
				res, err = c.app.Verifier.AutoVerify(hash, doc, spf)
			} else {
				res, err = c.app.Verifier.SemiVerify(doc, spf)
			}
			if err != nil {
				return err
			}
			if err := c.print(res); err != nil {
				return err
			}
			if res.Status != verify.Verified && res.Status != verify.Unverified {
				return fmt.Errorf("verification failed: %s", res.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "signed PDF")
	cmd.Flags().StringVar(&spfPath, "spf", "", "signing proof file")
	cmd.Flags().StringVar(&hash, "hash", "", "expected bindingDataHash")
	_ = cmd.MarkFlagRequired("pdf")
	_ = cmd.MarkFlagRequired("spf")
	return cmd
}
