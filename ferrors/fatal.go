package ferrors

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// exitFunc is swapped out in tests so Crash doesn't actually terminate the
// test binary.
var exitFunc = os.Exit

// Crash reports a fatal setup failure and terminates the process with a
// precise file:line, return code, and description message. code is the
// provider's raw return code where one exists (0 when the failure has no
// such code, e.g. a local validation).
//
// Fatal errors are, by definition, errors this layer cannot recover from:
// initialization, passive-endpoint setup, the connection-manager handshake,
// and the final rendezvous all call this instead of returning an error.
func Crash(logger *zap.SugaredLogger, op string, code int, err error) {
	_, file, line, ok := runtime.Caller(1)
	loc := "unknown:0"
	if ok {
		loc = fmt.Sprintf("%s:%d", file, line)
	}

	if logger != nil {
		logger.Errorw("fatal fabric error",
			"op", op,
			"location", loc,
			"code", code,
			"error", err,
		)
	} else {
		fmt.Fprintf(os.Stderr, "fatal: %s at %s (code=%d): %v\n", op, loc, code, err)
	}
	exitFunc(1)
}
