// Package ferrors defines the reported-error taxonomy and the fatal-crash
// path used by setup-time failures.
package ferrors

import (
	"github.com/cockroachdb/errors"
)

// Sentinel kinds. Every error built with the constructors below satisfies
// errors.Is against exactly one of these. Other errors reach callers as
// plain errors: a failed connection write in PostSend or PostWrite, a
// listen failure in bootstrap.NewTCPChannel, a wire frame decode error, or
// a TOML decode error from config.Load.
var (
	// ErrInvalidArgs covers a null buffer, a zero size, a wr_id that
	// overlaps the tag bits, or bounds exceeded on a post_* call.
	ErrInvalidArgs = errors.New("rdmatransport: invalid_args")

	// ErrConnectionBroken covers a lost TCP side-channel during setup or
	// region exchange.
	ErrConnectionBroken = errors.New("rdmatransport: connection_broken")

	// ErrUnsupportedFeature covers a surface method that is intentionally
	// unimplemented (e.g. a provider name with no registered Provider).
	ErrUnsupportedFeature = errors.New("rdmatransport: unsupported_feature")

	// ErrFatalFabric covers a non-zero return from the provider during
	// setup. Initialize passes such errors to Crash; fabric.Context.Connect
	// returns one to its caller when an address frame cannot be encoded or
	// decoded.
	ErrFatalFabric = errors.New("rdmatransport: fatal_fabric")
)

// InvalidArgs wraps ErrInvalidArgs with context.
func InvalidArgs(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrInvalidArgs, format, args...)
}

// ConnectionBroken wraps ErrConnectionBroken with context.
func ConnectionBroken(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrConnectionBroken, format, args...)
}

// UnsupportedFeature wraps ErrUnsupportedFeature with context.
func UnsupportedFeature(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrUnsupportedFeature, format, args...)
}

// FatalFabric wraps ErrFatalFabric with context, for callers that want to
// classify a provider failure before deciding whether it is fatal.
func FatalFabric(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrFatalFabric, format, args...)
}
