// Package logger builds *slog.Logger instances with functional options and
// provides attribute helpers that keep key names consistent across the state
// machine engine and its persisters.
//
// Loggers returned by New add the attributes stored with ContextWithAttrs, and
// those produced by ContextExtractor callbacks, to every record. The engine
// stores the machine and event on the context it hands to persisters and
// actions, so a stale-state warning logged deep in a store names the event
// that caused it.
//
//	var cfg logger.Config // LOG_LEVEL, LOG_FORMAT, SERVICE_NAME
//	config.MustLoad(&cfg)
//	log := logger.New(logger.WithConfig(cfg))
//
//	log.InfoContext(ctx, "transition",
//	    logger.FromState("created"),
//	    logger.ToState("paid"),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed unconditionally.
package logger
