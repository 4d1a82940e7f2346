// Package log provides structured logging for tradepost components.
//
// Loggers are constructed in main and passed down explicitly; there is no
// package-level default. A Logger carries a minimum level, a set of base
// fields, a Formatter (text or JSON), and one or more Outputs.
//
// Typical construction:
//
//	logger := log.NewLogger(
//		log.WithLevel(log.InfoLevel),
//		log.WithFormatter(&log.TextFormatter{}),
//		log.WithOutput(log.NewConsoleOutput()),
//	)
//	qlog := logger.WithComponent("taskqueue")
package log
