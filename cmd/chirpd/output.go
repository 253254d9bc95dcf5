package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// statusColor picks a color for a post's status and approval pair.
func statusColor(status, approval string) string {
	switch {
	case status == "sent":
		return colorGreen
	case status == "error":
		return colorRed
	case approval == "approved":
		return colorCyan
	default:
		return colorYellow
	}
}

// writePostLine prints one post as a single line: id, state, schedule and a
// preview of the text.
func writePostLine(w io.Writer, p postView) {
	state := p.Status
	if p.Status == "pending" {
		state = p.Approval
	}
	fmt.Fprintf(w, "%s  %s  %s  %s\n",
		colorize(colorBold, p.ID),
		colorize(statusColor(p.Status, p.Approval), fmt.Sprintf("%-9s", state)),
		p.ScheduledAt.Local().Format(time.DateTime),
		preview(p.Content, 60),
	)
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
