// Package pkg provides shared utilities for the softsd card stack.
//
// This package contains common functionality used by the protocol engine,
// the transports and the block-device layer, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for SD/MMC protocol failures
//   - Component identifiers for log filtering
//   - Phase identifiers naming each bounded wait of the protocol
//
// # Logging
//
// The logging subsystem wraps [log/slog] with card-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentCard, "card ready", "unit", 0, "class", "SDHC")
//
// # Errors
//
// Protocol failures are reported as sentinel values, usually wrapped with
// the command or reply that caused them:
//
//	if errors.Is(err, pkg.ErrDataRejected) {
//	    // The card refused a sector during a multi-block write
//	}
package pkg
