package logging

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// exit is a seam for testing Fatalf.
var exit = os.Exit

// PrintfLogger adapts a Logger to libraries that log through Printf and
// Fatalf, such as goose. Their chatter goes to Debug so it never lands on
// the terminal the REPL owns.
type PrintfLogger struct {
	l Logger
}

func NewPrintfLogger(l Logger) *PrintfLogger {
	return &PrintfLogger{l: l}
}

func (p *PrintfLogger) Printf(format string, v ...any) {
	p.l.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs at Error and exits, as the printf contract requires.
func (p *PrintfLogger) Fatalf(format string, v ...any) {
	p.l.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
	exit(1)
}
