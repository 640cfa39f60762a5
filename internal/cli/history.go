package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/actual-autocat/internal/model"
	"github.com/Veraticus/actual-autocat/internal/service"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const shortIDLength = 8

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(SubtleStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableCellStyle
		})
}

// ShortID abbreviates a run id for display.
func ShortID(id string) string {
	if len(id) > shortIDLength {
		return id[:shortIDLength]
	}
	return id
}

// RenderRuns renders a table of journaled runs.
func RenderRuns(runs []service.RunRecord) string {
	if len(runs) == 0 {
		return FormatInfo("No runs recorded yet.")
	}

	t := newTable("Run", "Started", "Backend", "Mode", "Total", "Categorized", "Skipped", "Rules", "Status")
	for _, run := range runs {
		mode := "apply"
		if run.DryRun {
			mode = "dry run"
		}
		if run.CreateRules {
			mode += " +rules"
		}

		status := SuccessStyle.Render("done")
		switch {
		case run.FinishedAt == nil:
			status = WarningStyle.Render("incomplete")
		case run.Summary.WriteFailures > 0:
			status = ErrorStyle.Render(fmt.Sprintf("%d failed", run.Summary.WriteFailures))
		}

		t.Row(
			ShortID(run.ID),
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			run.Backend,
			mode,
			fmt.Sprintf("%d", run.Summary.Total),
			fmt.Sprintf("%d", run.Summary.Categorized),
			fmt.Sprintf("%d", run.Summary.Skipped),
			fmt.Sprintf("%d", run.Summary.RulesCreated),
			status,
		)
	}
	return t.Render()
}

// RenderRun renders the header and decisions of a single run.
func RenderRun(run service.RunRecord, decisions []service.DecisionRecord) string {
	var sb strings.Builder

	header := fmt.Sprintf("Run %s", run.ID)
	sb.WriteString(FormatTitle(header))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%s %s   %s %s   %s %.0f%%\n",
		SubtleStyle.Render("Started"), run.StartedAt.Local().Format(time.DateTime),
		SubtleStyle.Render("Backend"), run.Backend,
		SubtleStyle.Render("Threshold"), run.MinConfidence*100)

	if len(decisions) == 0 {
		sb.WriteString(FormatInfo("No decisions recorded for this run."))
		return sb.String()
	}

	t := newTable("Transaction", "Payee", "Amount", "Category", "Confidence", "Outcome", "Note")
	for _, d := range decisions {
		outcome := WarningStyle.Render("skipped")
		if d.Outcome == model.OutcomeAccepted {
			outcome = SuccessStyle.Render("accepted")
		}

		category := d.CategoryName
		if category == "" {
			category = SubtleStyle.Render("-")
		}

		confidence := SubtleStyle.Render("-")
		if d.CategoryID != "" {
			confidence = fmt.Sprintf("%d%%", model.ConfidencePercent(d.Confidence))
		}

		note := d.Reason
		switch {
		case d.Error != "":
			note = ErrorStyle.Render(d.Error)
		case d.RuleCreated:
			note += ", rule created"
		}

		t.Row(
			ShortID(d.TransactionID),
			d.Payee,
			model.FormatAmount(d.Amount),
			category,
			confidence,
			outcome,
			note,
		)
	}
	sb.WriteString(t.Render())
	return sb.String()
}
