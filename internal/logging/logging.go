package logging

import (
	"os"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Debug bool
	// Format is "console" (coloured levels) or "json".
	Format string
}

func New(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	if opts.Format == "json" {
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		return zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(enc),
			zapcore.Lock(os.Stdout),
			level,
		))
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.AddSync(colorable.NewColorableStdout()),
		level,
	))
}

// ForIdentity scopes a logger to one identity.
func ForIdentity(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("identity", name))
}
