package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/opsctl/sshbroker/internal/config"
)

// Init initializes the global zap logger and returns a sync function the
// caller should defer at the top of main.
func Init() func() {
	appEnv := os.Getenv("APP_ENV")

	var logger *zap.Logger

	if appEnv == string(config.AppEnvDev) {
		devConfig := zap.NewDevelopmentConfig()
		devConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, _ = devConfig.Build()
	} else {
		logger = zap.Must(zap.NewProduction())
	}

	zap.ReplaceGlobals(logger)
	zap.L().Info("logger initialized")

	return func() { _ = logger.Sync() }
}
