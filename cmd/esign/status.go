package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newStatusCmd(c *cli) *cobra.Command {
	var fetch bool
	var outDir string
	cmd := &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Show a task's signing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			res, err := c.app.Pipeline.TaskStatus(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			if err := c.print(res); err != nil {
				return err
			}
			if !fetch {
				return nil
			}
			n := res.Status.NormalResponse
			if n == nil || !n.IsComplete {
				return fmt.Errorf("task %s is not complete", taskID)
			}
			result, err := c.app.Client.GetResult(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			files := map[string]string{
				filepath.Join(outDir, taskID+".pdf"): result.SignedPDFB64,
				filepath.Join(outDir, taskID+".spf"): result.SPFB64,
			}
			for path, b64 := range files {
				data, err := base64.StdEncoding.DecodeString(b64)
				if err != nil {
					return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", path, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fetch, "fetch", false, "download the signed document and its proof once complete")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "directory for fetched files")
	return cmd
}
