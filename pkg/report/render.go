package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Terminal color palette.
var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorGray   = lipgloss.Color("245")

	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleOK      = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	styleFail    = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	styleUncert  = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	styleSkipped = lipgloss.NewStyle().Foreground(colorGray)
	styleDim     = lipgloss.NewStyle().Foreground(colorGray)
)

func outcomeStyle(o Outcome) lipgloss.Style {
	switch o {
	case OK:
		return styleOK
	case Failed:
		return styleFail
	case Uncertain:
		return styleUncert
	default:
		return styleSkipped
	}
}

func outcomeMark(o Outcome) string {
	switch o {
	case OK:
		return "✓ OK"
	case Failed:
		return "✗ FAILED"
	case Uncertain:
		return "? UNCERTAIN"
	default:
		return "⊘ SKIPPED"
	}
}

// pad right-pads s with spaces to the given display width, truncating with
// an ellipsis when it overflows. Uses runewidth so wide runes line up.
func pad(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		return runewidth.Truncate(s, width, "…")
	}
	return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
}

// RenderTerminal formats a finalized Report for terminal output.
func RenderTerminal(rep *Report) string {
	var b strings.Builder

	b.WriteString(styleTitle.Render(fmt.Sprintf("Runbook: %s", rep.Runbook)))
	b.WriteString("\n")
	b.WriteString(styleDim.Render(fmt.Sprintf("Run:     %s  (%s)", rep.RunID, rep.EndedAt.Sub(rep.StartedAt).Round(time.Millisecond))))
	b.WriteString("\n")
	b.WriteString("Status:  " + outcomeStyle(rep.Status).Render(outcomeMark(rep.Status)))
	b.WriteString("\n")
	if rep.Message != "" {
		b.WriteString("\n" + rep.Message + "\n")
	}

	if len(rep.Results) == 0 {
		return b.String()
	}

	resWidth := 20
	for _, r := range rep.Results {
		if w := runewidth.StringWidth(r.Resource); w > resWidth && w <= 48 {
			resWidth = w
		}
	}

	b.WriteString("\n")
	for _, r := range rep.Results {
		reason, remediation, err := BindDetail(r.Detail)
		mark := outcomeStyle(r.Outcome).Render(pad(outcomeMark(r.Outcome), 12))
		b.WriteString(fmt.Sprintf("%s %s %s\n", mark, pad(r.Resource, resWidth), styleDim.Render("["+r.StepID+"]")))
		if err != nil {
			b.WriteString(styleDim.Render(fmt.Sprintf("             (detail template error: %v)", err)) + "\n")
		}
		if reason != "" {
			b.WriteString(wrapIndent(reason, "             ") + "\n")
		}
		if remediation != "" && r.Outcome != OK {
			b.WriteString(styleDim.Render(wrapIndent("→ "+remediation, "             ")) + "\n")
		}
		if r.Evidence != nil && r.Evidence.Summary != "" {
			b.WriteString(styleDim.Render("             evidence: "+r.Evidence.Summary) + "\n")
		}
	}

	return b.String()
}

// wrapIndent wraps text at ~100 columns with a fixed indent prefix.
func wrapIndent(text, indent string) string {
	const width = 100
	words := strings.Fields(text)
	if len(words) == 0 {
		return indent
	}
	var lines []string
	line := indent + words[0]
	for _, w := range words[1:] {
		if runewidth.StringWidth(line)+1+runewidth.StringWidth(w) > width {
			lines = append(lines, line)
			line = indent + w
			continue
		}
		line += " " + w
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}

// RenderMarkdown formats a finalized Report as a markdown document,
// suitable for piping through a markdown terminal renderer or posting to
// an issue tracker.
func RenderMarkdown(rep *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", rep.Runbook)
	fmt.Fprintf(&b, "- **Run**: `%s`\n", rep.RunID)
	fmt.Fprintf(&b, "- **Status**: **%s**\n", strings.ToUpper(string(rep.Status)))
	if rep.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", rep.Message)
	}

	if len(rep.Results) == 0 {
		return b.String()
	}

	b.WriteString("\n| Outcome | Resource | Step | Reason |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, r := range rep.Results {
		reason, _, _ := BindDetail(r.Detail)
		fmt.Fprintf(&b, "| %s | `%s` | %s | %s |\n",
			strings.ToUpper(string(r.Outcome)), r.Resource, r.StepID, escapeCell(reason))
	}

	var remediations []string
	for _, r := range rep.Results {
		if r.Outcome == OK || r.Detail.Remediation == "" {
			continue
		}
		_, rem, _ := BindDetail(r.Detail)
		if rem != "" {
			remediations = append(remediations, fmt.Sprintf("- **%s** (`%s`): %s", r.StepID, r.Resource, rem))
		}
	}
	if len(remediations) > 0 {
		b.WriteString("\n## Remediation\n\n")
		b.WriteString(strings.Join(remediations, "\n"))
		b.WriteString("\n")
	}

	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
