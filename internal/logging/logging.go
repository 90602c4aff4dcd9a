// Package logging configures the process-wide structured logger. Every
// log line carries a run_id field so that the output of one invocation
// can be grepped out of an aggregated log stream.
package logging

import (
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// New builds a JSON logger with a fresh per-run correlation id. level is
// parsed with logrus.ParseLevel; an unrecognized value falls back to
// info rather than failing startup over a log verbosity typo.
func New(level string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stderr)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return log.WithField("run_id", uuid.NewString())
}
