// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON, development mode writes colored console
// output. Components get a named child logger and log with structured
// fields such as generation, state, store and url.
//
//	logger := logging.NewDefault()
//	sup := supervisor.New(cfg, manager, start, logger.Component("supervisor"))
package logging
