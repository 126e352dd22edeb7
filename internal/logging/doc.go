// Package logging assembles the structured slog loggers used across
// walkwatcher.
//
// It owns the console and JSON handlers, level parsing, and output routing.
// Logs default to stderr because stdout belongs to the stdout metric sink. A
// log file, when configured, receives a JSON copy of every record. The
// package also provides a no-op logger for tests and wiring code.
package logging
