package debug

import (
	"fmt"
	"time"

	"github.com/parcel-linkage/internal/logger"
)

// Output writes a trace line through the root logger when enabled
func Output(enabled bool, format string, args ...interface{}) {
	if enabled {
		logger.Get().Debug().Msg(fmt.Sprintf(format, args...))
	}
}

// Timing logs the start of an operation and returns a func that logs its
// duration. It is a no-op when disabled.
func Timing(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	logger.Get().Debug().Str("op", operation).Msg("starting")

	return func() {
		logger.Get().Debug().Str("op", operation).Dur("took", time.Since(start)).Msg("completed")
	}
}
