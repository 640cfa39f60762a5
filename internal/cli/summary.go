package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/actual-autocat/internal/model"
	"github.com/charmbracelet/lipgloss"
)

type summaryRow struct {
	label string
	value string
}

// RenderSummary renders the end-of-run report.
func RenderSummary(summary model.Summary, backend string, dryRun bool) string {
	title := ChartIcon + " Categorization Summary"
	if dryRun {
		title += " (dry run)"
	}

	rows := []summaryRow{
		{"Backend", RobotIcon + " " + backend},
		{"Transactions", fmt.Sprintf("%d", summary.Total)},
		{"Categorized", SuccessStyle.Render(fmt.Sprintf("%d", summary.Categorized))},
		{"Skipped", WarningStyle.Render(fmt.Sprintf("%d", summary.Skipped))},
		{"Rules created", fmt.Sprintf("%d", summary.RulesCreated)},
	}
	if summary.WriteFailures > 0 {
		rows = append(rows, summaryRow{"Failed updates", ErrorStyle.Render(fmt.Sprintf("%d", summary.WriteFailures))})
	}
	rows = append(rows, summaryRow{"Duration", summary.Duration.Round(time.Millisecond).String()})

	labelStyle := SubtleStyle.Width(16)
	lines := make([]string, 0, len(rows)+2)
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(r.label), BoldStyle.Render(r.value)))
	}

	if dryRun && summary.Categorized > 0 {
		lines = append(lines, "", FormatInfo("Dry run: no transactions or rules were changed."))
	}
	if summary.Total == 0 {
		lines = append(lines, "", FormatSuccess("Nothing to categorize."))
	}

	return RenderBox(title, strings.Join(lines, "\n"))
}
