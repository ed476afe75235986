package cluster

import (
	"io"

	"github.com/hashicorp/go-hclog"
)

// newRaftLogger returns the hclog.Logger handed to Raft. Raft logs through
// hclog only, so its output goes to the process log writer rather than slog.
func newRaftLogger(output io.Writer, level string) hclog.Logger {
	if output == nil {
		return newNoOpHCLogger()
	}

	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Warn
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  lvl,
		Output: output,
	})
}

// newNoOpHCLogger creates a no-op hclog.Logger for Raft to avoid excessive logging.
func newNoOpHCLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.Off,
		Output: io.Discard,
	})
}
