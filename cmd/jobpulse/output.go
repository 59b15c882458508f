package main

import (
	"fmt"
	"os"
)

// ANSI codes for the CLI helpers below. All human-facing output goes to
// stderr so stdout stays clean for piping.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

func paint(code, s string) string {
	if noColor {
		return s
	}
	return code + s + ansiReset
}

func printLine(code, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(code, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printLine(ansiGreen, "✓", format, args...) }
func printError(format string, args ...any)   { printLine(ansiRed, "✗", format, args...) }
func printWarning(format string, args ...any) { printLine(ansiYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { printLine(ansiCyan, "→", format, args...) }

// printStatus renders an indented "Label: value" line for status output.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
