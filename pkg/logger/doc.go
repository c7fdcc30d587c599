// Package logger provides the structured logging facade used across mediagrab.
//
// It wraps zerolog behind a small Logger interface so components can be
// handed a scoped logger (WithField("component", "aggregator")) and tests can
// swap in a TestLogger that records messages.
//
//	logger.Initialize(&cfg.Logging)
//	log := logger.Component(nil, "scroll")
//	log.InfoWithFields("Scroll loop started", map[string]interface{}{
//	    "target":  target,
//	    "step_px": opts.StepPx,
//	})
//
// Output goes to a colored console writer when no log file is configured,
// and to the file plus a plain console writer otherwise.
package logger
