package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fathomtel/callsight/pkg/jobstore"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect background analysis jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, most recent first",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job's status",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsResultsCmd = &cobra.Command{
	Use:   "results <job-id>",
	Short: "Print the results of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResults,
}

var (
	jobsLimit int
	jobsJSON  bool
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsResultsCmd)

	jobsCmd.PersistentFlags().BoolVar(&jobsJSON, "json", false, "Emit machine-readable JSON")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs to show")
}

// jobStore opens the job store from configuration. Job inspection never
// needs the upstream clients.
func jobStore() (*jobstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return jobstore.NewStore(cfg.Jobs.Dir), nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	store, err := jobStore()
	if err != nil {
		return err
	}

	jobs, err := store.List(jobsLimit)
	if err != nil {
		return err
	}

	if jobsJSON {
		return printJSON(map[string]any{"jobs": jobs})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATUS\tPROGRESS\tCALLS\tUPDATED\tMESSAGE")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%d\t%s\t%s\n",
			j.ID, j.Status, j.ProgressPercent, j.CallCount,
			j.UpdatedAt.UTC().Format("2006-01-02 15:04:05"), j.Message)
	}
	return w.Flush()
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	store, err := jobStore()
	if err != nil {
		return err
	}

	job, err := store.Load(args[0])
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return fmt.Errorf("job %s not found", args[0])
		}
		return err
	}

	if jobsJSON {
		return printJSON(job)
	}

	fmt.Printf("Job:      %s\n", job.ID)
	fmt.Printf("Status:   %s\n", job.Status)
	fmt.Printf("Progress: %d%% (batch %d/%d)\n", job.ProgressPercent, job.CurrentBatch, job.TotalBatches)
	fmt.Printf("Calls:    %d (~%d tokens)\n", job.CallCount, job.TotalTokens)
	fmt.Printf("Cost:     $%.2f\n", job.CostSoFar)
	fmt.Printf("Updated:  %s\n", job.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Printf("Message:  %s\n", job.Message)
	if job.Error != "" {
		fmt.Printf("Error:    %s\n", job.Error)
	}
	return nil
}

func runJobsResults(cmd *cobra.Command, args []string) error {
	store, err := jobStore()
	if err != nil {
		return err
	}

	job, err := store.Load(args[0])
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return fmt.Errorf("job %s not found", args[0])
		}
		return err
	}
	if job.Status != jobstore.StatusComplete {
		return fmt.Errorf("job %s is %s; results are only available for complete jobs", job.ID, job.Status)
	}

	result, err := store.GetResult(args[0])
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return fmt.Errorf("results for %s are missing", args[0])
		}
		return err
	}

	if jobsJSON {
		return printJSON(result)
	}

	fmt.Printf("Job %s: %d calls in %d batches, cost $%.2f\n\n",
		result.JobID, result.TotalCalls, result.TotalBatches, result.TotalCost)
	for _, br := range result.BatchResults {
		fmt.Printf("--- Batch %d (%d calls) ---\n%s\n\n", br.BatchNum, br.CallsCount, br.Analysis)
	}
	return nil
}
