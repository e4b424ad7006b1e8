package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/template"
)

func newTemplateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Create reusable send templates",
	}
	cmd.AddCommand(
		newTemplateCreateCmd(c, "create", "Create a multi-signer template", template.CreateSend),
		newTemplateCreateCmd(c, "create-bulk", "Create a single-signer template for bulk sends", template.CreateBulkSend),
	)
	return cmd
}

func newTemplateCreateCmd(c *cli, use, short string, create func([]model.FieldInput, string, []byte) ([]byte, error)) *cobra.Command {
	var fields, pdfPath, name, out string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			data, err := os.ReadFile(fields)
			if err != nil {
				return fmt.Errorf("failed to read fields: %w", err)
			}
			var fieldList []model.FieldInput
			if err := json.Unmarshal(data, &fieldList); err != nil {
				return fmt.Errorf("failed to parse fields %s: %w", fields, err)
			}
			doc, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("failed to read pdf: %w", err)
			}
			if name == "" {
				name = filepath.Base(pdfPath)
			}
			archive, err := create(fieldList, name, doc)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, archive, 0o644); err != nil {
				return fmt.Errorf("failed to write template: %w", err)
			}
			return c.print(map[string]any{"template": out, "bytes": len(archive)})
		},
	}
	cmd.Flags().StringVar(&fields, "fields", "", "JSON file holding the fieldList")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "PDF document")
	cmd.Flags().StringVar(&name, "name", "", "pdfFileName recorded in the template (default: base name of --pdf)")
	cmd.Flags().StringVarP(&out, "out", "o", "template.zip", "where to write the template")
	_ = cmd.MarkFlagRequired("fields")
	_ = cmd.MarkFlagRequired("pdf")
	return cmd
}
