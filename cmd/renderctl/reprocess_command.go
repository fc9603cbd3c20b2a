package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/spf13/cobra"
)

func newReprocessCommand() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reprocess <file.dcm>...",
		Short: "Ask a running renderer to convert the given instances again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instances := make([]models.InstanceFile, 0, len(args))
			for _, path := range args {
				inst, err := tasks.DescribeInstance(path)
				if err != nil {
					return fmt.Errorf("describe %s: %w", path, err)
				}
				instances = append(instances, inst)
			}

			body, err := json.Marshal(map[string]any{"instances": instances})
			if err != nil {
				return err
			}

			url := strings.TrimRight(addr, "/") + "/api/v1/reprocess"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			client := &http.Client{Timeout: timeout}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("reprocess request failed: %w", err)
			}
			defer resp.Body.Close()

			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(out); err != nil {
				return err
			}
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("renderer answered %s", resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Renderer admin API base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	return cmd
}
