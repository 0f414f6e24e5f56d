package toolloop

import "errors"

var (
	// ErrIterationLimit indicates the round ceiling was reached without a done signal.
	ErrIterationLimit = errors.New("step limit exceeded")

	// ErrGracefulShutdown indicates the loop was interrupted by context cancellation.
	ErrGracefulShutdown = errors.New("graceful shutdown requested")
)
