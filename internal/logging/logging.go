// File: internal/logging/logging.go
// Package logging wires the ambient structured-logging stack honored across
// na-sm: a single logrus logger whose level is driven by HG_NA_LOG_LEVEL
// (spec.md §6), with one *logrus.Entry per component in the style of the
// teacher's one-declared-concern-per-file discipline.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on joeycumines-go-utilpkg/sql/log/logrus.go, which wires a
// logrus.Logger behind a narrow interface; here the wiring is simpler since
// na-sm owns the logger rather than adapting a third-party log facade.

package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// L returns the process-wide logger, initializing it from HG_NA_LOG_LEVEL on
// first use. Logging is diagnostic only and never part of the core contract
// (spec.md §6).
func L() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetLevel(levelFromEnv())
	})
	return logger
}

func levelFromEnv() logrus.Level {
	switch os.Getenv("HG_NA_LOG_LEVEL") {
	case "debug":
		return logrus.DebugLevel
	case "trace":
		return logrus.TraceLevel
	case "info":
		return logrus.InfoLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.WarnLevel
	}
}

// Component returns a logging entry tagged with name, e.g. "sm.engine".
func Component(name string) *logrus.Entry {
	return L().WithField("component", name)
}
