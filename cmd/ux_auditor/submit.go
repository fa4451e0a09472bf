package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/ux-auditor/internal/client"
	"github.com/jonathan/ux-auditor/internal/types"
)

var (
	submitServer     string
	submitURLs       []string
	submitFiles      []string
	submitCompetitor string
	submitWidgetKey  string
	submitOrigin     string
	submitWatch      bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an audit to a running server",
	Long: `Submit one or more URLs or screenshot files for auditing. With --competitor the first
URL is compared against the competitor URL in a single analysis.`,
	Example: `  ux_auditor submit --url https://shop.example.com --watch
  ux_auditor submit --file home.png --file checkout.png
  ux_auditor submit --url https://shop.example.com --competitor https://rival.example.com`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitServer, "server", "http://localhost:8080", "Audit server base URL")
	submitCmd.Flags().StringArrayVarP(&submitURLs, "url", "u", nil, "URL to audit (repeatable)")
	submitCmd.Flags().StringArrayVarP(&submitFiles, "file", "f", nil, "Screenshot file to audit (repeatable, one upload input)")
	submitCmd.Flags().StringVar(&submitCompetitor, "competitor", "", "Competitor URL (enables competitor mode)")
	submitCmd.Flags().StringVar(&submitWidgetKey, "widget-key", "", "Submit through the widget endpoint with this key")
	submitCmd.Flags().StringVar(&submitOrigin, "origin", "", "Origin header sent with --widget-key")
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "Follow the job after submitting")
	rootCmd.AddCommand(submitCmd)
}

// buildInput assembles the request from command line values.
func buildInput(urls []string, files [][]byte, competitor string) (types.InputData, error) {
	var input types.InputData
	if competitor != "" {
		if len(urls) != 1 || len(files) > 0 {
			return input, errors.New("competitor mode takes exactly one --url and no files")
		}
		input.AuditMode = types.ModeCompetitor
		input.Inputs = []types.Input{
			{Type: types.InputURL, URL: urls[0], Role: types.RolePrimary},
			{Type: types.InputURL, URL: competitor, Role: types.RoleCompetitor},
		}
	} else {
		for _, u := range urls {
			input.Inputs = append(input.Inputs, types.Input{Type: types.InputURL, URL: u})
		}
		if len(files) > 0 {
			encoded := make([]string, len(files))
			for i, f := range files {
				encoded[i] = base64.StdEncoding.EncodeToString(f)
			}
			input.Inputs = append(input.Inputs, types.Input{Type: types.InputUpload, Files: encoded})
		}
	}
	if err := input.Validate(); err != nil {
		return input, errors.New(types.DescribeValidationError(err))
	}
	return input, nil
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	files := make([][]byte, 0, len(submitFiles))
	for _, path := range submitFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, data)
	}
	input, err := buildInput(submitURLs, files, submitCompetitor)
	if err != nil {
		return fmt.Errorf("invalid audit request: %w", err)
	}

	var opts []client.Option
	if submitWidgetKey != "" {
		opts = append(opts, client.WithWidgetKey(submitWidgetKey, submitOrigin))
	}
	api := client.NewAPI(submitServer, opts...)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := api.Submit(ctx, input)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "submitted audit %s (%s)\n", resp.JobID, resp.Status)

	tracker, err := openTracker(watchStateFile)
	if err != nil {
		return err
	}
	tracker.Track(resp.JobID)

	if !submitWatch {
		return nil
	}
	return watchJobs(ctx, cmd.OutOrStdout(), api, tracker, resp.JobID)
}

// explain turns an API error into a message with guidance for the user.
func explain(err error) error {
	info := client.ClassifyError(err.Error())
	if info.Category == client.CategoryOther {
		return err
	}
	return fmt.Errorf("%s: %s (%w)", info.Title, info.Guidance, err)
}
