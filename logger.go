package main

import (
	"os"

	"github.com/charmbracelet/log"
)

// initLogger builds the stderr logger; debug adds timestamps, callers and
// debug-level messages.
func initLogger(debug bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    debug,
		ReportTimestamp: debug,
		Prefix:          "imagev",
	})
	if debug {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}
