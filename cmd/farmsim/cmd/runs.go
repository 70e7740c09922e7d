package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/farmsim/internal/report"
	"github.com/psantana5/farmsim/pkg/api"
	"github.com/psantana5/farmsim/pkg/retry"
	"github.com/psantana5/farmsim/pkg/store"
)

var (
	serverURL    string
	clientAPIKey string
	runsJSON     bool
	submitWait   bool
	submitFile   string
	chartOutPath string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Talk to a running farmsim server",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs on the server",
	RunE:  runRunsList,
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show a run and its results",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsGet,
}

var runsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a run",
	Long:  `Submits a run. The body is a JSON object of config fields overriding the server's config, read from --file or "-" for stdin.`,
	RunE:  runRunsSubmit,
}

var runsChartCmd = &cobra.Command{
	Use:   "chart <run-id>",
	Short: "Download a run's chart",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsChart,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsGetCmd, runsSubmitCmd, runsChartCmd)

	runsCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "farmsim server URL")
	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "print raw JSON")
	runsCmd.PersistentFlags().StringVar(&clientAPIKey, "api-key", "", "API key sent as a bearer token (default FARMSIM_API_KEY)")
	runsSubmitCmd.Flags().BoolVar(&submitWait, "wait", false, "block until the run finishes")
	runsSubmitCmd.Flags().StringVar(&submitFile, "file", "", "JSON overrides file, - for stdin")
	runsChartCmd.Flags().StringVarP(&chartOutPath, "out", "O", "", "output path (default <run-id>.png)")
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func serverEndpoint(path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

// clientRetry is the backoff used by every runs subcommand
var clientRetry = retry.DefaultConfig()

// idempotent reports whether repeating method cannot create a second resource
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// doRequest performs the call and returns the body of a 2xx response.
// 429 responses are always retried since the server rejected the request
// before handling it. Connection failures and 5xx responses are retried
// only for idempotent methods; a submission that timed out may already
// have been accepted.
func doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var data []byte
	safe := idempotent(method)
	err := retry.Do(ctx, clientRetry, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, serverEndpoint(path), reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if key := clientKey(); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return retryIf(safe, fmt.Errorf("failed to reach server: %w", err))
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return retryIf(safe, fmt.Errorf("failed to read response: %w", err))
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}

		statusErr := responseError(resp.Status, data)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			after, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			return retry.RetryableAfter(statusErr, time.Duration(after)*time.Second)
		case resp.StatusCode >= 500:
			return retryIf(safe, statusErr)
		default:
			return statusErr
		}
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func retryIf(ok bool, err error) error {
	if ok {
		return retry.Retryable(err)
	}
	return err
}

func clientKey() string {
	if clientAPIKey != "" {
		return clientAPIKey
	}
	return apiKeyFromEnv()
}

func responseError(status string, data []byte) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %s: %s", status, apiErr.Error)
	}
	return fmt.Errorf("server returned %s: %s", status, strings.TrimSpace(string(data)))
}

func runRunsList(cmd *cobra.Command, args []string) error {
	data, err := doRequest(cmd.Context(), "GET", "/runs", nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if runsJSON {
		_, err := out.Write(data)
		return err
	}

	var runs []api.RunListing
	if err := json.Unmarshal(data, &runs); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Status", "Created", "Drained", "Median Cycles", "Mean Util")
	for _, run := range runs {
		drained, median, util := "-", "-", "-"
		if run.Summary != nil {
			drained = fmt.Sprintf("%d/%d", run.Summary.Drained, run.Summary.Repetitions)
			median = fmt.Sprintf("%.1f", run.Summary.Cycles.Center)
			util = fmt.Sprintf("%.1f%%", run.Summary.MeanUtilization)
		}
		table.Append(
			run.ID,
			string(run.Status),
			run.CreatedAt.Format("2006-01-02 15:04:05"),
			drained,
			median,
			util,
		)
	}
	return table.Render()
}

func printRun(cmd *cobra.Command, data []byte) error {
	out := cmd.OutOrStdout()
	if runsJSON {
		_, err := out.Write(data)
		return err
	}

	var run store.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	fmt.Fprintf(out, "Run:    %s\nStatus: %s\n", run.ID, run.Status)
	if run.Error != "" {
		fmt.Fprintf(out, "Error:  %s\n", run.Error)
	}
	if run.Report == nil {
		return nil
	}
	fmt.Fprintf(out, "Seed:   %d\n\n", run.Report.Seed)
	if err := report.WriteResultsTable(out, run.Report.Results); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return report.WriteSummaryTable(out, run.Report.Summary)
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	data, err := doRequest(cmd.Context(), "GET", "/runs/"+args[0], nil)
	if err != nil {
		return err
	}
	return printRun(cmd, data)
}

func runRunsSubmit(cmd *cobra.Command, args []string) error {
	var body []byte
	switch submitFile {
	case "":
		body = []byte("{}")
	case "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		body = b
	default:
		b, err := os.ReadFile(submitFile)
		if err != nil {
			return err
		}
		body = b
	}

	path := "/runs"
	if submitWait {
		path += "?wait=true"
	}
	data, err := doRequest(cmd.Context(), "POST", path, body)
	if err != nil {
		return err
	}
	return printRun(cmd, data)
}

func runRunsChart(cmd *cobra.Command, args []string) error {
	data, err := doRequest(cmd.Context(), "GET", "/runs/"+args[0]+"/chart.png", nil)
	if err != nil {
		return err
	}
	path := chartOutPath
	if path == "" {
		path = args[0] + ".png"
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Chart written to %s\n", path)
	return nil
}
