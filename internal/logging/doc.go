// Package logging provides the shared zap logger for the library.
//
// Logging is silent by default so the library never surprises a consuming
// program with output on stdout. Set SWITCHER_LOG_LEVEL to "debug", "info",
// "warn" or "error" to enable it, or call Initialize with an explicit level.
package logging
