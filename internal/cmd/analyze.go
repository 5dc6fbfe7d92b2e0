package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fathomtel/callsight/internal/observability"
	"github.com/fathomtel/callsight/pkg/analysis"
	"github.com/fathomtel/callsight/pkg/callsource"
	"github.com/fathomtel/callsight/pkg/jobstore"
	"github.com/fathomtel/callsight/pkg/manifest"
	"github.com/fathomtel/callsight/pkg/routing"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze call transcripts",
	Long: `Fetch calls, size the workload, and analyze it.

Small workloads print transcripts for inline analysis. Large workloads run
as a background batch job; the command follows the job to completion and
prints the results.

Example:
  callsight analyze --days 7 --domains "*.acme.com" --prompt "Flag churn risk"
  callsight analyze --manifest renewal-review.yaml --json`,
	RunE: runAnalyze,
}

var (
	analyzeManifest   string
	analyzeFrom       string
	analyzeTo         string
	analyzeDays       int
	analyzeCallIDs    []string
	analyzeEmails     []string
	analyzeDomains    []string
	analyzeTitle      string
	analyzePrompt     string
	analyzeTokenLimit int
	analyzeJSON       bool
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeManifest, "manifest", "m", "", "Path to analysis-request manifest (YAML or JSON)")
	analyzeCmd.Flags().StringVar(&analyzeFrom, "from", "", "Window start (2006-01-02 or RFC 3339)")
	analyzeCmd.Flags().StringVar(&analyzeTo, "to", "", "Window end")
	analyzeCmd.Flags().IntVar(&analyzeDays, "days", 0, "Lookback in days (alternative to --from/--to)")
	analyzeCmd.Flags().StringSliceVar(&analyzeCallIDs, "call-ids", nil, "Restrict to specific call ids")
	analyzeCmd.Flags().StringSliceVar(&analyzeEmails, "emails", nil, "Restrict by participant email")
	analyzeCmd.Flags().StringSliceVar(&analyzeDomains, "domains", nil, "Restrict by participant email domain (glob ok)")
	analyzeCmd.Flags().StringVar(&analyzeTitle, "title", "", "Restrict by call title (substring or glob)")
	analyzeCmd.Flags().StringVarP(&analyzePrompt, "prompt", "p", "", "Analysis instructions")
	analyzeCmd.Flags().IntVar(&analyzeTokenLimit, "token-limit", -1, "Direct-mode threshold in K tokens (0 disables deferral, -1 uses config)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Emit machine-readable JSON")
}

// analyzeRequest assembles the service request from flags or a manifest.
func analyzeRequest(cfgLimit int) (analysis.Request, int, error) {
	limit := cfgLimit
	if analyzeTokenLimit >= 0 {
		limit = analyzeTokenLimit
	}

	var req analysis.Request

	if analyzeManifest != "" {
		m, err := manifest.Load(analyzeManifest)
		if err != nil {
			return req, 0, err
		}
		from, to, err := m.Range(time.Now())
		if err != nil {
			return req, 0, err
		}
		req.From, req.To = from, to
		req.Filter = m.CallFilter()
		req.Prompt = m.Prompt
		if m.Routing.DirectTokenLimitK != nil {
			limit = *m.Routing.DirectTokenLimitK
		}
	}

	// Flags layer on top of the manifest.
	if analyzeDays > 0 {
		req.To = time.Now()
		req.From = req.To.AddDate(0, 0, -analyzeDays)
	}
	if analyzeFrom != "" {
		t, err := parseCLIDate(analyzeFrom)
		if err != nil {
			return req, 0, fmt.Errorf("--from: %w", err)
		}
		req.From = t
	}
	if analyzeTo != "" {
		t, err := parseCLIDate(analyzeTo)
		if err != nil {
			return req, 0, fmt.Errorf("--to: %w", err)
		}
		req.To = t
	}
	if len(analyzeCallIDs) > 0 {
		req.Filter.CallIDs = analyzeCallIDs
	}
	if len(analyzeEmails) > 0 {
		req.Filter.Emails = analyzeEmails
	}
	if len(analyzeDomains) > 0 {
		req.Filter.Domains = analyzeDomains
	}
	if analyzeTitle != "" {
		req.Filter.TitleQuery = analyzeTitle
	}
	if analyzePrompt != "" {
		req.Prompt = analyzePrompt
	}

	return req, limit, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req, limit, err := analyzeRequest(cfg.Analysis.DirectTokenLimitK)
	if err != nil {
		return err
	}
	cfg.Analysis.DirectTokenLimitK = limit

	logger, err := observability.New(cfg.Log.Level, "console")
	if err != nil {
		return err
	}
	deps := buildServices(cfg, logger)
	warnIfSourceUnconfigured(deps.source)

	resp, err := deps.svc.RouteAndDispatch(cmd.Context(), req)
	if err != nil {
		return err
	}

	switch resp.Decision.Mode {
	case routing.ModeError:
		return errors.New(resp.Decision.Reason)

	case routing.ModeDirect:
		if analyzeJSON {
			return printJSON(resp)
		}
		fmt.Printf("Mode: direct (%d calls, ~%d tokens, threshold %s)\n\n",
			resp.Decision.CallCount, resp.Decision.EstimatedTokens, resp.Decision.Threshold)
		for _, doc := range resp.Documents {
			fmt.Println(doc.Text())
		}
		return nil

	default:
		if !analyzeJSON {
			fmt.Printf("Mode: deferred. Job %s started (%d calls, ~%d batches, ~%d min)\n",
				resp.JobID, resp.Decision.CallCount, resp.Decision.EstimatedBatches, resp.Decision.EstimatedMinutes)
		}
		return followJob(deps, resp.JobID)
	}
}

// followJob polls the job until it reaches a terminal state, then prints
// the results. The background goroutine runs in this process, so exiting
// early would abandon the job.
func followJob(deps *services, jobID string) error {
	lastMessage := ""
	for {
		job, err := deps.store.Load(jobID)
		if err != nil {
			if errors.Is(err, jobstore.ErrUnavailable) {
				time.Sleep(time.Second)
				continue
			}
			return err
		}

		if !analyzeJSON && job.Message != lastMessage {
			fmt.Printf("  [%3d%%] %s\n", job.ProgressPercent, job.Message)
			lastMessage = job.Message
		}

		if job.Status.Terminal() {
			break
		}
		time.Sleep(2 * time.Second)
	}

	deps.registry.Wait()

	job, err := deps.store.Load(jobID)
	if err != nil {
		return err
	}
	if job.Status == jobstore.StatusError {
		return fmt.Errorf("job %s failed: %s", jobID, job.Error)
	}

	result, err := deps.store.GetResult(jobID)
	if err != nil {
		return err
	}

	if analyzeJSON {
		return printJSON(result)
	}

	fmt.Printf("\nJob %s complete: %d calls in %d batches, cost $%.2f\n\n",
		result.JobID, result.TotalCalls, result.TotalBatches, result.TotalCost)
	for _, br := range result.BatchResults {
		fmt.Printf("--- Batch %d (%d calls) ---\n%s\n\n", br.BatchNum, br.CallsCount, br.Analysis)
	}
	return nil
}

func parseCLIDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// warnIfSourceUnconfigured logs a hint when credentials are missing so the
// inevitable ErrNotConfigured is not the first signal.
func warnIfSourceUnconfigured(source *callsource.HTTPClient) {
	if !source.Configured() {
		observability.CLILogger.Warn("call platform credentials not set",
			zap.String("hint", "set CALLSIGHT_SOURCE_ACCESS_KEY and CALLSIGHT_SOURCE_ACCESS_SECRET"))
	}
}
