package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/actual-autocat/internal/model"
	"github.com/schollz/progressbar/v3"
)

// ProgressReporter shows a progress bar while decisions are made.
type ProgressReporter struct {
	writer     io.Writer
	bar        *progressbar.ProgressBar
	visible    bool
	accepted   int
	skipped    int
	failedSave int
}

// NewProgressReporter creates a reporter writing to writer. When visible is
// false, decisions are only counted.
func NewProgressReporter(writer io.Writer, visible bool) *ProgressReporter {
	return &ProgressReporter{
		writer:  writer,
		visible: visible,
	}
}

// Start begins tracking total decisions.
func (p *ProgressReporter) Start(total int) {
	p.accepted, p.skipped, p.failedSave = 0, 0, 0
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionSetVisibility(p.visible),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Applying categories...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if !p.visible {
				return
			}
			if _, err := fmt.Fprintln(p.writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

// Step records one decision.
func (p *ProgressReporter) Step(decision model.Decision) {
	switch {
	case decision.WriteBackErr != nil:
		p.failedSave++
	case decision.Outcome == model.OutcomeAccepted:
		p.accepted++
	default:
		p.skipped++
	}

	if p.bar == nil {
		return
	}
	p.bar.Describe(fmt.Sprintf("[cyan][bold]Applying categories...[reset] %d accepted, %d skipped", p.accepted, p.skipped))
	if err := p.bar.Add(1); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish completes the progress bar.
func (p *ProgressReporter) Finish() {
	if p.bar == nil {
		return
	}
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}
