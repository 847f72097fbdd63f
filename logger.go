package ingot

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var isDebug = os.Getenv("DEBUG") != ""

type Logger struct {
	out io.Writer
	log *log.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout)
}

// NewLoggerTo writes log lines to out. DEBUG in the environment enables
// debug output.
func NewLoggerTo(out io.Writer) *Logger {
	level := log.InfoLevel
	if isDebug {
		level = log.DebugLevel
	}

	return &Logger{
		out: out,
		log: log.NewWithOptions(out, log.Options{
			Prefix: "ingot",
			Level:  level,
		}),
	}
}

func (l *Logger) Info(msg string, keyvals ...any) {
	l.log.Info(msg, keyvals...)
}

func (l *Logger) Success(msg string, keyvals ...any) {
	l.log.Info("✓ "+msg, keyvals...)
}

func (l *Logger) Start(msg string, keyvals ...any) {
	l.log.Info("→ "+msg, keyvals...)
}

func (l *Logger) Debug(msg string, keyvals ...any) {
	l.log.Debug(msg, keyvals...)
}

func (l *Logger) Warn(msg string, keyvals ...any) {
	l.log.Warn(msg, keyvals...)
}

func (l *Logger) Error(msg string, keyvals ...any) {
	l.log.Error(msg, keyvals...)
}

func (l *Logger) Banner(title string, items []string) {
	fmt.Fprintf(l.out, "\n%s\n", title)
	for _, item := range items {
		fmt.Fprintf(l.out, "  %s\n", item)
	}
	fmt.Fprintln(l.out)
}

func IsDebug() bool {
	return isDebug
}

func FormatPath(path string) string {
	cwd, _ := os.Getwd()
	rel := strings.TrimPrefix(path, cwd+"/")
	return rel
}

func loggerOrDefault(l *Logger) *Logger {
	if l == nil {
		return NewLogger()
	}
	return l
}
