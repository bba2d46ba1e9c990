// Package logger wraps logrus with the relay's defaults.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Level string
	JSON  bool
	// Output defaults to stdout.
	Output io.Writer
}

var (
	mu  sync.RWMutex
	log = newLogger(Config{Level: "info"})
)

func newLogger(cfg Config) *logrus.Logger {
	l := logrus.New()
	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.JSON {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return l
}

// Init replaces the process-wide logger.
func Init(cfg Config) *logrus.Logger {
	l := newLogger(cfg)
	mu.Lock()
	log = l
	mu.Unlock()
	return l
}

// L returns the process-wide logger.
func L() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Component returns an entry tagged with a component name, printed the same
// way as the bracketed prefixes in the operator docs ([Jimeng], [DB], ...).
func Component(name string) *logrus.Entry {
	return L().WithField("component", name)
}
