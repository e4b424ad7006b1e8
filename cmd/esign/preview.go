package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pipeline"
)

func newPreviewCmd(c *cli) *cobra.Command {
	f := &sendFlags{}
	var bulk bool
	var out string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render a task with field placeholders without submitting it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, doc, err := f.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			p := c.app.Pipeline
			var res model.PreviewResponse
			switch {
			case bulk && f.template != "":
				res, err = p.PreviewBulkSendWithTemplate(ctx, pipeline.TemplateBulkSendRequest{TaskConfig: t.TaskConfig, Template: doc, SignerNo: f.signerNo})
			case bulk:
				res, err = p.PreviewBulkSend(ctx, pipeline.BulkSendRequest{
					TaskConfig: t.TaskConfig, FieldList: t.FieldList, PDFFileName: t.PDFFileName, PDF: doc, SignerNo: f.signerNo,
				})
			case f.template != "":
				res, err = p.PreviewSendWithTemplate(ctx, pipeline.TemplateSendRequest{TaskConfig: t.TaskConfig, Template: doc})
			default:
				res, err = p.PreviewSend(ctx, pipeline.SendRequest{
					TaskConfig: t.TaskConfig, FieldList: t.FieldList, PDFFileName: t.PDFFileName, PDF: doc,
				})
			}
			if err != nil {
				return err
			}
			rendered, err := base64.StdEncoding.DecodeString(res.PDFPreviewB64)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, rendered, 0o644); err != nil {
				return fmt.Errorf("failed to write preview: %w", err)
			}
			return c.print(map[string]any{"preview": out, "bytes": len(rendered)})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&bulk, "bulk", false, "preview as a bulk send")
	cmd.Flags().IntVar(&f.signerNo, "signer-no", 0, "bulk recipient to preview")
	cmd.Flags().StringVarP(&out, "out", "o", "preview.pdf", "where to write the preview")
	return cmd
}
