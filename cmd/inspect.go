package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lucy-a11y/shuffle/internal/analytics"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/outreach"
	"github.com/lucy-a11y/shuffle/internal/resilience"
	"github.com/lucy-a11y/shuffle/internal/shuffle"
	"github.com/lucy-a11y/shuffle/internal/store"
	anthropicpkg "github.com/lucy-a11y/shuffle/pkg/anthropic"
)

// initQueryService builds a Service that can read sessions and update
// companies without search, scan, or CRM credentials. Script generation is
// available when an Anthropic key is configured.
func initQueryService(ctx context.Context) (*shuffle.Service, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	deps := shuffle.Deps{Store: st}
	if cfg.Anthropic.Key != "" {
		llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
		deps.Scripts = outreach.New(
			outreach.NewAnthropicGenerator(llm, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens),
			st,
			outreach.WithRetryPolicy(resilience.PolicyFromConfig(cfg.Retry)),
			outreach.WithTimeout(cfg.Timeouts.Generate()),
		)
	}
	return shuffle.NewService(shuffle.NewOrchestrator(deps, cfg)), st, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, eris.Errorf("%s must be an integer, got %q", what, arg)
	}
	return id, nil
}

// -- project --

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project owned by --user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if userID == "" {
			return eris.New("--user is required")
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := st.CreateProject(ctx, userID, args[0])
		if err != nil {
			return eris.Wrap(err, "project create")
		}
		fmt.Fprintf(os.Stdout, "%d\n", p.ID)
		return nil
	},
}

// -- sessions --

var sessionsCmd = &cobra.Command{
	Use:   "sessions <project-id>",
	Short: "List a project's shuffle sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, err := parseID(args[0], "project id")
		if err != nil {
			return err
		}
		svc, st, err := initQueryService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sessions, err := svc.GetShuffleSessions(ctx, userID, projectID)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}
		formatSessions(os.Stdout, sessions)
		return nil
	},
}

// -- details --

var detailsCmd = &cobra.Command{
	Use:   "details <session-id>",
	Short: "Show a session's progress and companies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, st, err := initQueryService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		details, err := svc.GetShuffleDetails(ctx, userID, args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, details)
		}
		formatDetails(os.Stdout, details)
		return nil
	},
}

// -- cancel --

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Request cancellation of a running session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, st, err := initQueryService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ok, err := svc.CancelShuffle(ctx, userID, args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Session finished before the cancel took effect.")
			return nil
		}
		fmt.Fprintln(os.Stderr, "Cancel requested; in-flight sites will finish.")
		return nil
	},
}

// -- scripts --

var scriptsCmd = &cobra.Command{
	Use:   "scripts <session-id>",
	Short: "List a session's sales scripts, highest risk first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, st, err := initQueryService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scripts, err := svc.GetShuffleSalesScripts(ctx, userID, args[0])
		if err != nil {
			return err
		}
		if len(scripts) == 0 {
			fmt.Fprintln(os.Stderr, "No scripts found.")
			return nil
		}
		formatScripts(os.Stdout, scripts)
		return nil
	},
}

// -- script --

var scriptCmd = &cobra.Command{
	Use:   "script <company-id>",
	Short: "Generate a sales script for a scanned company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		companyID, err := parseID(args[0], "company id")
		if err != nil {
			return err
		}
		tone, _ := cmd.Flags().GetString("tone")

		svc, st, err := initQueryService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		script, err := svc.GenerateScriptForCompany(ctx, userID, companyID, tone)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, script.Content)
		return nil
	},
}

// -- status --

var statusCmd = &cobra.Command{
	Use:   "status <company-id> <contact-status>",
	Short: "Move a company along the contact funnel",
	Long:  "Statuses: not_contacted, contacted, responded, scheduled, closed_won, closed_lost. Moves are forward only.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		companyID, err := parseID(args[0], "company id")
		if err != nil {
			return err
		}
		notes, _ := cmd.Flags().GetString("notes")

		svc, st, err := initQueryService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c, err := svc.UpdateCompanyContactStatus(ctx, userID, companyID, args[1], notes)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s is now %s\n", c.CompanyName, c.ContactStatus)
		return nil
	},
}

// -- analytics --

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show sales funnel analytics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rng, _ := cmd.Flags().GetString("range")
		project, _ := cmd.Flags().GetInt64("project")

		svc, st, err := initQueryService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var projectID *int64
		if project > 0 {
			projectID = &project
		}
		rep, err := svc.GetSalesAnalytics(ctx, userID, projectID, rng)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, rep)
		}
		formatReport(os.Stdout, rep)
		return nil
	},
}

func init() {
	projectCmd.AddCommand(projectCreateCmd)
	detailsCmd.Flags().Bool("json", false, "print JSON")
	scriptCmd.Flags().String("tone", "professional", "professional, friendly, or urgent")
	statusCmd.Flags().String("notes", "", "notes to append to the company")
	analyticsCmd.Flags().String("range", "30d", "7d, 30d, 90d, or all")
	analyticsCmd.Flags().Int64("project", 0, "limit to one project (default all of --user's projects)")
	analyticsCmd.Flags().Bool("json", false, "print JSON")

	rootCmd.AddCommand(projectCmd, sessionsCmd, detailsCmd, cancelCmd, scriptsCmd, scriptCmd, statusCmd, analyticsCmd)
}

// formatSessions writes a table of sessions to w.
func formatSessions(out io.Writer, sessions []model.ShuffleSession) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tQUERY\tSTATUS\tPROGRESS\tNON-COMPLIANT\tLEADS\tSTARTED")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t--------\t-------------\t-----\t-------")
	for i := range sessions {
		s := &sessions[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%d\t%d\t%s\n",
			s.ID, s.SearchQuery(), s.Status, shuffle.Progress(s),
			s.NonCompliantSites, s.LeadsGenerated, s.StartedAt.Format(time.DateTime))
	}
	_ = w.Flush()
}

// formatDetails writes a session summary and its companies to w.
func formatDetails(out io.Writer, d *shuffle.SessionDetails) {
	s := d.Session
	_, _ = fmt.Fprintf(out, "Session %s (%s): %s, %d%%\n", s.ID, s.SearchQuery(), s.Status, d.Progress)
	_, _ = fmt.Fprintf(out, "Sites: %d discovered, %d scanned, %d compliant, %d non-compliant, %d failed; %d leads\n",
		s.TotalSites, s.ScannedSites, s.CompliantSites, s.NonCompliantSites, s.FailedSites, s.LeadsGenerated)
	if s.ErrorMessage != "" {
		_, _ = fmt.Fprintf(out, "Error: %s\n", s.ErrorMessage)
	}
	if len(d.Companies) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\nID\tCOMPANY\tDOMAIN\tSCAN\tRISK\tLEADS\tCONTACT")
	for _, c := range d.Companies {
		risk := "-"
		if c.RiskScore != nil {
			risk = strconv.Itoa(*c.RiskScore)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			c.ID, c.CompanyName, c.Domain, c.ScanStatus, risk, len(c.Leads), c.ContactStatus)
	}
	_ = w.Flush()
}

// formatScripts writes one block per company script to w.
func formatScripts(out io.Writer, scripts []store.CompanyScript) {
	for i, cs := range scripts {
		if i > 0 {
			_, _ = fmt.Fprintln(out)
		}
		risk := 0
		if cs.Company.RiskScore != nil {
			risk = *cs.Company.RiskScore
		}
		_, _ = fmt.Fprintf(out, "== %s (%s) risk %d, %s tone, %d leads ==\n",
			cs.Company.CompanyName, cs.Company.Domain, risk, cs.Script.Tone, len(cs.Leads))
		_, _ = fmt.Fprintln(out, cs.Script.Content)
	}
}

// formatReport writes the funnel and conversion rates to w.
func formatReport(out io.Writer, r *analytics.Report) {
	f := r.Funnel
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Range\t%s\n", r.TimeRange)
	_, _ = fmt.Fprintf(w, "Sessions\t%d\n", f.Sessions)
	_, _ = fmt.Fprintf(w, "Discovered\t%d\n", f.Discovered)
	_, _ = fmt.Fprintf(w, "Scanned\t%d\t%.0f%%\n", f.Scanned, r.Rates.DiscoveryToScan)
	_, _ = fmt.Fprintf(w, "Non-compliant\t%d\t%.0f%%\n", f.NonCompliant, r.Rates.ScanToNonCompliant)
	_, _ = fmt.Fprintf(w, "Leads\t%d\n", f.Leads)
	_, _ = fmt.Fprintf(w, "With scripts\t%d\n", f.CompaniesWithScripts)
	_, _ = fmt.Fprintf(w, "Contacted\t\t%.0f%%\n", r.Rates.Contact)
	_, _ = fmt.Fprintf(w, "Closed won\t\t%.0f%%\n", r.Rates.Close)
	_, _ = fmt.Fprintf(w, "Avg risk\t%d\n", r.AverageRiskScore)
	_ = w.Flush()
}
