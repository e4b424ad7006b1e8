package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pipeline"
)

// taskFile is the JSON the send commands read: the task description and,
// unless a template is used, its field list and document name.
type taskFile struct {
	TaskConfig  model.TaskInput    `json:"taskConfig"`
	FieldList   []model.FieldInput `json:"fieldList"`
	PDFFileName string             `json:"pdfFileName"`
}

type sendFlags struct {
	task     string
	pdf      string
	template string
	dryRun   bool
	signerNo int
}

func (f *sendFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.task, "task", "", "task JSON file (taskConfig, fieldList, pdfFileName)")
	cmd.Flags().StringVar(&f.pdf, "pdf", "", "PDF document to send")
	cmd.Flags().StringVar(&f.template, "template", "", "template archive to send instead of --pdf and fieldList")
	_ = cmd.MarkFlagRequired("task")
	cmd.MarkFlagsMutuallyExclusive("pdf", "template")
	cmd.MarkFlagsOneRequired("pdf", "template")
}

func (f *sendFlags) load() (taskFile, []byte, error) {
	data, err := os.ReadFile(f.task)
	if err != nil {
		return taskFile{}, nil, fmt.Errorf("failed to read task: %w", err)
	}
	var t taskFile
	if err := json.Unmarshal(data, &t); err != nil {
		return taskFile{}, nil, fmt.Errorf("failed to parse task %s: %w", f.task, err)
	}
	path := f.pdf
	if f.template != "" {
		path = f.template
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return taskFile{}, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return t, doc, nil
}

func (c *cli) requireLive(dryRun bool) error {
	if dryRun {
		return nil
	}
	return c.app.RequirePublicKey()
}

func newSendCmd(c *cli) *cobra.Command {
	f := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Submit one signing task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireLive(f.dryRun); err != nil {
				return err
			}
			t, doc, err := f.load()
			if err != nil {
				return err
			}
			var res model.SendResponse
			if f.template != "" {
				res, err = c.app.Pipeline.SendWithTemplate(cmd.Context(), pipeline.TemplateSendRequest{
					TaskConfig: t.TaskConfig, Template: doc, DryRun: f.dryRun,
				})
			} else {
				res, err = c.app.Pipeline.Send(cmd.Context(), pipeline.SendRequest{
					TaskConfig: t.TaskConfig, FieldList: t.FieldList, PDFFileName: t.PDFFileName, PDF: doc, DryRun: f.dryRun,
				})
			}
			if err != nil {
				return err
			}
			return c.print(res)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "render and bind only, print the binding hash")
	return cmd
}

func newBulkSendCmd(c *cli) *cobra.Command {
	f := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "bulk-send",
		Short: "Submit one task per recipient of the same document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireLive(f.dryRun); err != nil {
				return err
			}
			t, doc, err := f.load()
			if err != nil {
				return err
			}
			var res model.BulkResponse
			if f.template != "" {
				res, err = c.app.Pipeline.BulkSendWithTemplate(cmd.Context(), pipeline.TemplateBulkSendRequest{
					TaskConfig: t.TaskConfig, Template: doc, DryRun: f.dryRun,
				})
			} else {
				res, err = c.app.Pipeline.BulkSend(cmd.Context(), pipeline.BulkSendRequest{
					TaskConfig: t.TaskConfig, FieldList: t.FieldList, PDFFileName: t.PDFFileName, PDF: doc, DryRun: f.dryRun,
				})
			}
			if err != nil {
				return err
			}
			if err := c.print(res); err != nil {
				return err
			}
			for _, r := range res.TaskList {
				if r.ErrorResponse != nil {
					return errors.New("some recipients failed")
				}
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "render and bind only, print the binding hashes")
	return cmd
}
