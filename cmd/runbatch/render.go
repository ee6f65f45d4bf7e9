package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/service"
	"github.com/haatos/runbatch/internal/store"
	"github.com/haatos/runbatch/internal/util"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	queuedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	successStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

const (
	nameWidth       = 32
	minBarWidth     = 10
	defaultTermSize = 80
)

// parseTargets reads TARGET@VERSION arguments.
func parseTargets(args []string) ([]store.RunSpec, error) {
	specs := make([]store.RunSpec, 0, len(args))
	for _, arg := range args {
		name, version, ok := strings.Cut(arg, "@")
		name, version = strings.TrimSpace(name), strings.TrimSpace(version)
		if !ok || name == "" || version == "" {
			return nil, fmt.Errorf("invalid target %q, expected TARGET@VERSION", arg)
		}
		specs = append(specs, store.RunSpec{Target: name, Version: version})
	}
	return specs, nil
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultTermSize
	}
	return width
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "success", "passed", "completed":
		return successStyle
	case "failed":
		return failedStyle
	case "running":
		return runningStyle
	case "cancelled", "skipped":
		return warningStyle
	}
	return queuedStyle
}

func renderStatus(status string) string {
	return statusStyle(status).Render(fmt.Sprintf("%-9s", status))
}

// progressBar draws done out of total in width cells.
func progressBar(done, total int64, width int) string {
	width = max(width, 1)
	filled := 0
	if total > 0 {
		filled = int(min(done, total) * int64(width) / total)
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func renderBatch(b store.Batch, width int) string {
	head := fmt.Sprintf(
		"%s %s %s",
		titleStyle.Render(fmt.Sprintf("#%d", b.BatchID)),
		util.Truncate(b.Name, nameWidth),
		renderStatus(string(b.Status)),
	)
	counts := fmt.Sprintf(
		"%d/%d done, %s passed, %s failed, created %s",
		b.CompletedRuns,
		b.TotalRuns,
		successStyle.Render(fmt.Sprint(b.PassedRuns)),
		failedStyle.Render(fmt.Sprint(b.FailedRuns)),
		humanize.Time(b.CreatedOn),
	)
	barWidth := max(minBarWidth, width-lipgloss.Width(head)-2)
	return head + "  " + progressBar(b.CompletedRuns, b.TotalRuns, barWidth) + "\n  " + dimmedStyle.Render(counts)
}

func renderRun(r store.Run) string {
	line := fmt.Sprintf(
		"  run %d %s %s@%s %d/%d",
		r.RunID,
		renderStatus(string(r.Status)),
		r.Target,
		r.TargetVersion,
		r.ProgressDone,
		r.ProgressTotal,
	)
	if r.ProgressFailed > 0 {
		line += failedStyle.Render(fmt.Sprintf(" (%d failed)", r.ProgressFailed))
	}
	if r.ErrorMessage != nil {
		line += " " + warningStyle.Render(util.Truncate(*r.ErrorMessage, 60))
	}
	return line
}

func renderResult(res *store.Result) string {
	var sb strings.Builder
	fmt.Fprintf(
		&sb,
		"    %d tests, %d passed, %d failed\n",
		res.Summary.Total,
		res.Summary.Passed,
		res.Summary.Failed,
	)
	for _, t := range res.Tests {
		fmt.Fprintf(
			&sb,
			"    %s %s %s",
			renderStatus(string(t.Status)),
			t.Name,
			dimmedStyle.Render(fmt.Sprintf("%dms", t.DurationMs)),
		)
		if t.Attempts > 1 {
			fmt.Fprintf(&sb, " %s", dimmedStyle.Render(fmt.Sprintf("attempt %d", t.Attempts)))
		}
		if t.Error != nil {
			fmt.Fprintf(&sb, " %s", failedStyle.Render(*t.Error))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderEvent(ev events.Event) string {
	prefix := dimmedStyle.Render(fmt.Sprintf("%4d %s", ev.Seq, ev.ReceivedOn.Format("15:04:05")))
	var detail string
	switch p := ev.Payload.(type) {
	case events.RunStarted:
		detail = fmt.Sprintf("%d tests", p.ProgressTotal)
	case events.TestStarted:
		detail = p.TestName
	case events.TestFinished:
		detail = fmt.Sprintf("%s %s %dms", p.TestName, renderStatus(string(p.TestStatus)), p.DurationMs)
	case events.RunFailed:
		detail = failedStyle.Render(p.Error)
	case events.RunCancelled:
		detail = p.Reason
	case events.RunFinished:
		detail = renderStatus(string(p.Status))
	case events.Diagnostic:
		detail = warningStyle.Render(util.Truncate(p.Name+" "+p.Data, 60))
	}
	return fmt.Sprintf("%s %s %s", prefix, ev.Type, detail)
}

// resumeHint explains a run that lost its event stream before finishing.
func resumeHint(u service.Update) string {
	if u.Kind != service.RunUpdated || u.Run == nil || u.Subscribed || u.Run.Status.IsTerminal() {
		return ""
	}
	return fmt.Sprintf(
		"run %d lost its event stream, use `runbatch resume %d` to catch up",
		u.RunID,
		u.RunID,
	)
}
