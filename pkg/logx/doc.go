// Package logx configures tasktracker's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Loggers created from a Service follow Service.Apply, so config reloads swap
// sinks and levels without re-plumbing every component.
package logx
