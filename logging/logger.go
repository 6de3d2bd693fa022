package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It is a no-op until InitLogger runs so
// packages and tests can log unconditionally.
var Logger = zap.NewNop()

func InitLogger(production bool) error {
	var config zap.Config

	if production {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}
	Logger = logger
	return nil
}

// Sync flushes buffered entries; call once on shutdown.
func Sync() {
	_ = Logger.Sync()
}
