// Package logger constructs the process-wide zap logger.
package logger

import "go.uber.org/zap"

// New returns a zap sugared logger. When debug is true it uses the
// development config (human-readable, debug level); otherwise the production
// config (JSON, info level).
func New(debug bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
