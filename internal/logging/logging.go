// Package logging builds the process logger. Every component logs through a
// logrus.FieldLogger and tags entries with "mod" and "evt" fields.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a JSON logger, or a human-readable one when pretty is set.
// Unknown levels fall back to info.
func New(level string, pretty bool) *logrus.Logger {
	return NewWithOutput(os.Stdout, level, pretty)
}

func NewWithOutput(out io.Writer, level string, pretty bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	if pretty {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "message",
			},
		})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger
}

// Module returns a logger scoped to one component.
func Module(log logrus.FieldLogger, mod string) logrus.FieldLogger {
	return log.WithField("mod", mod)
}
