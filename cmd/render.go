package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/chenapple/thesaurus-management/internal/analysis"
)

// progressPrinter prints agent transitions of a running session
type progressPrinter struct {
	out io.Writer

	mu     sync.Mutex
	target string
	agents map[analysis.Role]analysis.AgentStatus
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{
		out:    out,
		agents: make(map[analysis.Role]analysis.AgentStatus),
	}
}

func (p *progressPrinter) update(snap analysis.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.CurrentTarget != "" && snap.CurrentTarget != p.target {
		p.target = snap.CurrentTarget
		p.agents = make(map[analysis.Role]analysis.AgentStatus)
		color.New(color.FgCyan, color.Bold).Fprintf(p.out, "\n━━━ %s (%d/%d) ━━━\n",
			snap.CurrentTarget, snap.Progress.Completed+1, snap.Progress.Total)
	}

	for _, a := range snap.Agents {
		if p.agents[a.ID] == a.Status {
			continue
		}
		p.agents[a.ID] = a.Status
		switch a.Status {
		case analysis.AgentRunning:
			color.New(color.FgYellow).Fprintf(p.out, "▶ %s\n", a.Name)
		case analysis.AgentCompleted:
			color.New(color.FgGreen).Fprintf(p.out, "✓ %s\n", a.Name)
		case analysis.AgentError:
			color.New(color.FgRed).Fprintf(p.out, "✗ %s: %s\n", a.Name, a.Error)
		}
	}
}

func statusColor(status analysis.Status) *color.Color {
	switch status {
	case analysis.StatusCompleted:
		return color.New(color.FgGreen, color.Bold)
	case analysis.StatusPartial, analysis.StatusCancelled:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

// printSummary prints the outcome of a session
func printSummary(out io.Writer, sessionID string, snap analysis.Snapshot) {
	fmt.Fprintf(out, "\nSession %s: ", sessionID)
	statusColor(snap.Status).Fprintf(out, "%s\n", snap.Status)
	fmt.Fprintf(out, "Targets: %d/%d completed\n", snap.Progress.Completed, snap.Progress.Total)
	if len(snap.Progress.Failed) > 0 {
		color.New(color.FgRed).Fprintf(out, "Failed: %s\n", strings.Join(snap.Progress.Failed, ", "))
	}
	if snap.UnknownSkipped > 0 {
		color.New(color.Faint).Fprintf(out, "Skipped %d records without a known country\n", snap.UnknownSkipped)
	}
	if snap.Error != "" {
		color.New(color.FgRed).Fprintf(out, "Error: %s\n", snap.Error)
	}

	res := snap.FinalResult
	if res == nil {
		return
	}
	fmt.Fprintf(out, "Negative words: %d, bid adjustments: %d, keyword opportunities: %d\n",
		len(res.NegativeWords), len(res.BidAdjustments), len(res.KeywordOpportunities))
	fmt.Fprintf(out, "Optimization score: %.0f\n", res.Summary.OptimizationScore.Float())
	for _, insight := range res.Summary.KeyInsights {
		color.New(color.Faint).Fprintf(out, "  • %s\n", insight)
	}
}
