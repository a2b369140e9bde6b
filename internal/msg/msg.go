package msg

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// diagnostics go to stderr, stdout is reserved for command output
var errOut io.Writer = color.Error

func Error(format string, a ...any) {
	fmt.Fprint(errOut, color.HiRedString("error"), ": ")
	fmt.Fprintf(errOut, format, a...)
	fmt.Fprint(errOut, "\n")
}

func Warn(format string, a ...any) {
	fmt.Fprint(errOut, color.YellowString("warn"), ": ")
	fmt.Fprintf(errOut, format, a...)
	fmt.Fprint(errOut, "\n")
}

func Fatal(format string, a ...any) {
	fmt.Fprint(errOut, color.RedString("fatal"), ": ")
	fmt.Fprintf(errOut, format, a...)
	fmt.Fprint(errOut, "\n")
	os.Exit(1)
}

func Info(format string, a ...any) {
	fmt.Fprint(errOut, color.HiGreenString("info"), ": ")
	fmt.Fprintf(errOut, format, a...)
	fmt.Fprint(errOut, "\n")
}

// Step prints a right-aligned green verb followed by a message, cargo style:
//
//	Compiling src/main.c
func Step(verb, format string, a ...any) {
	fmt.Printf("%12s %s\n", color.HiGreenString(verb), fmt.Sprintf(format, a...))
}

type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	buf := make([]byte, 0, len(p)+len(w.Indent))
	for _, c := range p {
		if !w.didIndent {
			buf = append(buf, w.Indent...)
			w.didIndent = true
		}
		buf = append(buf, c)
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	if _, err := w.W.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}
