package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomtel/callsight/internal/observability"
	"github.com/fathomtel/callsight/pkg/callsource"
	"github.com/fathomtel/callsight/pkg/transcript"
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Browse calls from the upstream platform",
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List and search calls",
	Long: `List calls in a date window, optionally filtered by participant or
title.

Example:
  callsight calls list --days 7
  callsight calls list --domains acme.com --title renewal`,
	RunE: runCallsList,
}

var callsTranscriptCmd = &cobra.Command{
	Use:   "transcript <call-id>",
	Short: "Print one call transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallsTranscript,
}

var callsParticipantsCmd = &cobra.Command{
	Use:   "participants <call-id>",
	Short: "Print the participant roster for one call",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallsParticipants,
}

var (
	callsFrom    string
	callsTo      string
	callsDays    int
	callsEmails  []string
	callsDomains []string
	callsTitle   string
	callsJSON    bool
	callsFormat  string
)

func init() {
	rootCmd.AddCommand(callsCmd)
	callsCmd.AddCommand(callsListCmd, callsTranscriptCmd, callsParticipantsCmd)

	callsCmd.PersistentFlags().StringVar(&callsFrom, "from", "", "Window start (2006-01-02 or RFC 3339)")
	callsCmd.PersistentFlags().StringVar(&callsTo, "to", "", "Window end")
	callsCmd.PersistentFlags().IntVar(&callsDays, "days", 0, "Lookback in days")
	callsCmd.PersistentFlags().BoolVar(&callsJSON, "json", false, "Emit machine-readable JSON")

	callsListCmd.Flags().StringSliceVar(&callsEmails, "emails", nil, "Filter by participant email")
	callsListCmd.Flags().StringSliceVar(&callsDomains, "domains", nil, "Filter by participant email domain (glob ok)")
	callsListCmd.Flags().StringVar(&callsTitle, "title", "", "Filter by call title (substring or glob)")

	callsTranscriptCmd.Flags().StringVar(&callsFormat, "format", "text", "Output format (text|json)")
}

func callsWindow() (time.Time, time.Time, error) {
	var from, to time.Time
	var err error

	if callsDays > 0 {
		to = time.Now()
		return to.AddDate(0, 0, -callsDays), to, nil
	}
	if callsFrom != "" {
		if from, err = parseCLIDate(callsFrom); err != nil {
			return from, to, fmt.Errorf("--from: %w", err)
		}
	}
	if callsTo != "" {
		if to, err = parseCLIDate(callsTo); err != nil {
			return from, to, fmt.Errorf("--to: %w", err)
		}
	}
	return from, to, nil
}

func runCallsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	from, to, err := callsWindow()
	if err != nil {
		return err
	}

	deps := buildServices(cfg, observability.CLILogger)
	calls, err := deps.svc.SearchCalls(cmd.Context(), from, to, callsource.Filter{
		Emails:     callsEmails,
		Domains:    callsDomains,
		TitleQuery: callsTitle,
	})
	if err != nil {
		return err
	}

	if callsJSON {
		return printJSON(map[string]any{"calls": calls})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CALL ID\tSTARTED\tDURATION\tTITLE")
	for _, c := range calls {
		started := ""
		if !c.Started.IsZero() {
			started = c.Started.UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, started, transcript.FormatDuration(c.DurationSeconds), c.Title)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d calls\n", len(calls))
	return nil
}

func runCallsTranscript(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	from, to, err := callsWindow()
	if err != nil {
		return err
	}

	deps := buildServices(cfg, observability.CLILogger)
	doc, err := deps.svc.GetTranscript(cmd.Context(), args[0], from, to)
	if err != nil {
		return err
	}

	switch callsFormat {
	case "json":
		return printJSON(doc)
	case "text":
		fmt.Println(doc.Text())
		return nil
	default:
		return fmt.Errorf("invalid --format %q (want text or json)", callsFormat)
	}
}

func runCallsParticipants(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	from, to, err := callsWindow()
	if err != nil {
		return err
	}

	deps := buildServices(cfg, observability.CLILogger)
	internal, external, err := deps.svc.GetParticipants(cmd.Context(), args[0], from, to)
	if err != nil {
		return err
	}

	if callsJSON {
		return printJSON(map[string]any{"internal": internal, "external": external})
	}

	printRoster := func(label string, people []transcript.Participant) {
		fmt.Printf("%s:\n", label)
		if len(people) == 0 {
			fmt.Println("  (none)")
		}
		for _, p := range people {
			if p.Email != "" {
				fmt.Printf("  %s <%s>\n", p.Name, p.Email)
			} else {
				fmt.Printf("  %s\n", p.Name)
			}
		}
	}
	printRoster("Internal", internal)
	printRoster("External", external)
	return nil
}
