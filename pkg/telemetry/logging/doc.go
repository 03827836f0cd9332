// Package logging configures the process-wide structured logger.
//
// Everything in the engine logs through log/slog, scoped per component
// with slog.Default().With("component", ...). This package builds the
// handler from configuration (level, format, source locations) and
// installs it as the slog default, so component loggers pick it up
// without threading a logger handle through every constructor.
package logging
