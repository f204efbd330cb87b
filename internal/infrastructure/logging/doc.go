// Package logging provides structured logging for the powersensor daemon.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard, or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	dispatcherLog := logger.Component("dispatcher")
//	dispatcherLog.Device(mac).Info("plug connected")
//
// Library packages (dispatcher, discovery, plug, ...) accept a small Logger
// interface instead of importing this package; *Logger satisfies it.
package logging
