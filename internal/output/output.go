package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// UI provides colored output and respects verbose mode.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	magenta       = color.New(color.FgHiMagenta).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
	bold          = color.New(color.Bold).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// Faint returns a dimmed string.
func Faint(s string) string { return faint(s) }

// Bold returns a bold string.
func Bold(s string) string { return bold(s) }

// FindingTypeColor returns the finding type colored by how urgent it is.
func FindingTypeColor(findingType string) string {
	switch strings.ToLower(findingType) {
	case "error":
		return red(findingType)
	case "warning":
		return yellow(findingType)
	case "suggestion":
		return cyan(findingType)
	case "praise":
		return green(findingType)
	case "question":
		return magenta(findingType)
	default:
		return findingType
	}
}

// SeverityColor returns the severity colored high to low.
func SeverityColor(severity string) string {
	switch strings.ToLower(severity) {
	case "high":
		return red(severity)
	case "medium":
		return yellow(severity)
	case "low":
		return faint(severity)
	default:
		return severity
	}
}

// StatusColor returns a finding status, reviewer progress or session status colored.
func StatusColor(status string) string {
	switch strings.ToLower(status) {
	case "accepted", "complete", "ready", "user_deciding":
		return green(status)
	case "in_progress", "loading", "running", "council_reviewing", "editor_synthesizing":
		return yellow(status)
	case "pending", "idle":
		return cyan(status)
	case "rejected", "error", "failed", "skipped", "cancelled":
		return red(status)
	case "dismissed", "unloaded":
		return faint(status)
	default:
		return status
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Interactive reports whether progress lines can be redrawn in place.
func (u *UI) Interactive() bool {
	return IsTerminal(u.Out)
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

// Progress writes a status line. On a terminal the line is redrawn in place.
func (u *UI) Progress(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if u.Interactive() {
		fmt.Fprintf(u.Out, "\r\033[K%s %s", verbosePrefix, msg)
		return
	}
	fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, msg)
}

// EndProgress terminates an in-place progress line.
func (u *UI) EndProgress() {
	if u.Interactive() {
		fmt.Fprintln(u.Out)
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
