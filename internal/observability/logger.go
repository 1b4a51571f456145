package observability

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = newLogger(os.Stderr, "info")

func newLogger(out io.Writer, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Logger returns the process logger.
func Logger() *logrus.Logger {
	return logger
}

// Configure replaces the process logger. Call once from main before starting components.
func Configure(out io.Writer, level string, json bool) {
	l := newLogger(out, level)
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	logger = l
}

// WithFields returns an entry carrying kv as fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return logger.WithField("component", name)
}
