package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chenapple/thesaurus-management/internal/analysis"
	"github.com/chenapple/thesaurus-management/internal/service"
	"github.com/chenapple/thesaurus-management/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "adanalyzer",
		Short:         "Multi-agent search term report analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(analyzeCmd(), retryCmd(), agentCmd(), sessionsCmd(), serveCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		if advice := service.NewDefaultErrorHandler().GetAdvice(err); advice != "" {
			fmt.Fprintf(os.Stderr, "%s\n", advice)
		}
		os.Exit(1)
	}
}

func analyzeCmd() *cobra.Command {
	var (
		termsFile string
		acos      float64
		resumeID  string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a search term report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if termsFile == "" && resumeID == "" {
				return fmt.Errorf("--terms or --resume is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			req := service.AnalyzeRequest{
				Source:     termsFile,
				TargetACOS: acos,
				ResumeID:   resumeID,
			}
			if resumeID == "" {
				terms, err := service.LoadTerms(termsFile)
				if err != nil {
					return err
				}
				req.Terms = terms
				log.Info("Loaded %d records from %s", len(terms), termsFile)
			}

			printer := newProgressPrinter(cmd.OutOrStdout())
			req.OnUpdate = printer.update
			out, err := a.runner.Analyze(cmd.Context(), req)
			if out.SessionID != "" {
				printSummary(cmd.OutOrStdout(), out.SessionID, out.Snapshot)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&termsFile, "terms", "", "search term report (.csv or .json)")
	cmd.Flags().Float64Var(&acos, "acos", 0, "target ACOS in percent (default ANALYSIS_TARGET_ACOS)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume an interrupted session")
	return cmd
}

func retryCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-run the failed targets of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			printer := newProgressPrinter(cmd.OutOrStdout())
			out, err := a.runner.Retry(cmd.Context(), sessionID, printer.update)
			if out.SessionID != "" {
				printSummary(cmd.OutOrStdout(), out.SessionID, out.Snapshot)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func agentCmd() *cobra.Command {
	var (
		role      string
		termsFile string
		acos      float64
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a single analyst on a search term report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			terms, err := service.LoadTerms(termsFile)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			raw, err := a.runner.RunAgent(cmd.Context(), analysis.Role(role), terms, acos)
			if err != nil {
				return err
			}
			var pretty any
			if err := json.Unmarshal(raw, &pretty); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pretty)
		},
	}
	cmd.Flags().StringVar(&role, "role", string(analysis.RoleSearchTermAnalyst), "search_term_analyst, acos_expert or bid_strategist")
	cmd.Flags().StringVar(&termsFile, "terms", "", "search term report (.csv or .json)")
	cmd.Flags().Float64Var(&acos, "acos", 0, "target ACOS in percent")
	_ = cmd.MarkFlagRequired("terms")
	return cmd
}

func sessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, err := a.runner.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %s  ", s.ID, s.UpdatedAt.Local().Format(time.DateTime))
				statusColor(s.Status).Fprintf(out, "%-9s", s.Status)
				fmt.Fprintf(out, "  %s\n", s.Source)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}
