package factosync

import (
	"github.com/sirupsen/logrus"
)

// ProgressFunc receives coarse milestone messages (per cabinet, per phase).
// Purely observational: it never affects control flow and may be nil.
type ProgressFunc func(message string)

func notify(progress ProgressFunc, message string) {
	if progress != nil {
		progress(message)
	}
}

// LoggerProgress adapts the shared logger into a progress sink.
func LoggerProgress(logger *logrus.Logger, runId uint) ProgressFunc {
	return func(message string) {
		logger.WithFields(logrus.Fields{
			"module": "factosync",
			"run_id": runId,
		}).Info(message)
	}
}
