// Package log is the structured logger every bus component receives by
// injection.
//
// Loggers are built once in main (NewLogger or ApplyConfig) and narrowed with
// With, typically to a component plus the topic, group and consumer it
// serves:
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("consumer"), log.Topic("finbot.events"))
//	l.Info("consumer started", log.Group("analytics"))
//
// Records pass through a slog.Handler that feeds the package's formatters and
// outputs. Values of secret-looking keys (token, secret, authorization,
// password) are always written as [REDACTED]; Config.RedactKeys extends the
// set. WithContext copies request, topic, group, event and connection ids
// from the context, plus the trace and span id of the active OpenTelemetry
// span.
//
// SetLevel on a root logger applies to every logger derived from it; the
// server relies on this for live config reloads. RedirectStdLog routes the
// standard library logger (used by Pebble) through a Logger.
package log
