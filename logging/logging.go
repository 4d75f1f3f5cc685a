// Package logging builds the process logger: a zap.Logger teed to the
// console and to a rotated log file.
//
// The package composes:
//   - encoder configs (JSON for files, human-readable for dev consoles)
//   - a lumberjack-backed rotating file writer
//   - request lifecycle field constructors used by the HTTP middleware
package logging
