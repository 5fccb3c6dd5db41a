// Package log captures a machine-readable trace of link, command, session
// and ranging events on the Anchor and the Tag.
//
// It is separate from operational logging (slog). Components accept a Logger
// and emit an Event for every frame, parsed command, state change, ranging
// outcome and error; a nil Logger or NoopLogger disables capture.
//
//	// Console during development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary file for later analysis
//	fl, _ := log.NewFileLogger("/var/log/proxkey/anchor.pklog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with integer keys and the
// .pklog extension. The proxkey-log tool views, filters, summarizes and
// exports them.
package log
