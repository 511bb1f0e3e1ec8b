package msg

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

func Error(format string, a ...any) {
	fmt.Print(color.HiRedString("error"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func Warn(format string, a ...any) {
	fmt.Print(color.YellowString("warn"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func Fatal(format string, a ...any) {
	fmt.Print(color.RedString("fatal"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
	os.Exit(1)
}

func Info(format string, a ...any) {
	fmt.Print(color.HiGreenString("info"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

// Logger is Info/Warn/Error/Fatal bound to one build invocation: every
// line it prints carries the invocation's run ID (Build.RunID, spec §9's
// per-invocation identity) so overlapping or back-to-back runs can be
// told apart in a saved log the way a bare package-level call never
// could. The package-level functions above remain for diagnostics that
// predate a constructed Build (manifest/cycle errors from build.New
// itself, and Execute's top-level error line in cmd/ariamake).
type Logger struct {
	RunID string
}

// NewLogger binds runID to every line the returned Logger prints.
func NewLogger(runID string) *Logger {
	return &Logger{RunID: runID}
}

// tag renders the run ID prefix, truncated to 8 characters to keep log
// lines scannable — full precision is still available via --verbose's
// "run <runID>: ..." startup line.
func (l *Logger) tag() string {
	if l == nil || l.RunID == "" {
		return ""
	}
	id := l.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return color.CyanString("[%s] ", id)
}

func (l *Logger) Error(format string, a ...any) {
	fmt.Print(color.HiRedString("error"))
	fmt.Print(": ")
	fmt.Print(l.tag())
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func (l *Logger) Warn(format string, a ...any) {
	fmt.Print(color.YellowString("warn"))
	fmt.Print(": ")
	fmt.Print(l.tag())
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func (l *Logger) Info(format string, a ...any) {
	fmt.Print(color.HiGreenString("info"))
	fmt.Print(": ")
	fmt.Print(l.tag())
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func (l *Logger) Fatal(format string, a ...any) {
	fmt.Print(color.RedString("fatal"))
	fmt.Print(": ")
	fmt.Print(l.tag())
	fmt.Printf(format, a...)
	fmt.Print("\n")
	os.Exit(1)
}

type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	for _, c := range p {
		if !w.didIndent {
			w.W.Write([]byte(w.Indent))
			w.didIndent = true
		}
		w.W.Write([]byte{c}) // FIXME-perf: buffer this
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	return len(p), nil
}
