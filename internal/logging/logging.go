// Package logging builds the process logger.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to out at level, formatted as "json" or
// text. An unknown level falls back to info and says so.
func New(out io.Writer, level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
