package logger

import (
	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
)

// Log is the internal logger for livetest
var Log core.Logger

func init() {
	Log = newLogger(core.InformationLevel)
}

// SetVerbose switches debug output on or off.
func SetVerbose(verbose bool) {
	level := core.InformationLevel
	if verbose {
		level = core.DebugLevel
	}
	Log = newLogger(level)
}

func newLogger(level core.LogEventLevel) core.Logger {
	return mtlog.New(
		mtlog.WithConsole(),
		mtlog.WithMinimumLevel(level),
	)
}
