// Package logging constructs the client's structured logger. Mirrors the
// router's internal/logging: one small constructor rather than a bespoke
// logging package, since zap.Config already provides everything an entry
// point needs.
package logging

import "go.uber.org/zap"

// New builds a SugaredLogger at the given level ("debug", "info", "warn",
// "error"). An unrecognized level falls back to info.
func New(level string) (*zap.SugaredLogger, error) {
	var lvl zap.AtomicLevel
	switch level {
	case "debug":
		lvl = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		lvl = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		lvl = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = nil

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Must is New with its error turned into a panic, for package-level
// initializers that have no way to propagate a construction failure.
func Must(level string) *zap.SugaredLogger {
	l, err := New(level)
	if err != nil {
		panic(err)
	}
	return l
}
