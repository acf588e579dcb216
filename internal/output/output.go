// Package output provides consistent CLI output formatting.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ANSI color codes used when the destination is a terminal.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// Writer provides formatted output for the CLI. Color is enabled only
// when the destination is an interactive terminal.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer, auto-detecting terminal capability.
func New(out io.Writer) *Writer {
	return &Writer{out: out, useColor: isTerminal(out)}
}

// NewPlain creates a Writer with color forced off.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Colored reports whether this writer emits ANSI color.
func (w *Writer) Colored() bool { return w.useColor }

func (w *Writer) paint(color, s string) string {
	if !w.useColor {
		return s
	}
	return color + s + colorReset
}

// Println writes a plain line.
func (w *Writer) Println(args ...any) {
	_, _ = fmt.Fprintln(w.out, args...)
}

// Printf writes formatted text.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format, args...)
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.paint(colorGreen, "ok"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.paint(colorYellow, "warn"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.paint(colorRed, "error"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a bold section header.
func (w *Writer) Header(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s\n", w.paint(colorBold, msg))
}

// Highlight returns s painted for emphasis.
func (w *Writer) Highlight(s string) string {
	return w.paint(colorCyan, s)
}

// Dim returns s painted as secondary text.
func (w *Writer) Dim(s string) string {
	return w.paint(colorDim, s)
}

// Code prints an indented code block.
func (w *Writer) Code(content string) {
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "    %s\n", w.Dim(line))
	}
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
