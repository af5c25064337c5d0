package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName tags every log line and span this process emits.
const ServiceName = "chunked-media"

// InitLogger builds the console logger used in development or the JSON
// logger used everywhere else. An empty level keeps the config's default.
func InitLogger(isDev bool, level string) (*zap.Logger, error) {
	var config zap.Config
	if isDev {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.InitialFields = map[string]any{"service": ServiceName}

	return config.Build()
}

// SugaredLogger is used for the few Printf-style startup messages.
type SugaredLogger struct {
	*zap.SugaredLogger
}

func NewSugaredLogger(logger *zap.Logger) *SugaredLogger {
	return &SugaredLogger{logger.Sugar()}
}
