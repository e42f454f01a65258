// Package logx wraps zerolog behind a small structured-logging API.
//
// It supports console and file sinks, runtime reconfiguration via
// Service.Apply, and derived loggers with fixed fields (With).
package logx
