// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stderr at level in format ("text" or "json").
// An invalid level falls back to info and is reported once.
func New(level, format string) *logrus.Logger {
	return NewWithOutput(os.Stderr, level, format)
}

// NewWithOutput is New with an explicit writer.
func NewWithOutput(w io.Writer, level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithFields(logrus.Fields{
			"attempted_level": level,
			"default_level":   "info",
		}).Warn("Invalid log level specified, defaulting to info")
	}
	return log
}

// Discard returns a logger that drops everything. Used by tests and the
// download worker, whose stdout carries the progress stream.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
