// Package logging builds the zap loggers used by the CLI.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"seriesresolver/internal/diag"
)

// New returns a production logger writing to stderr; verbose lowers the
// level to debug.
func New(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.Sampling = nil
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// DiagnosticLog writes diagnostics as JSON lines to a file.
type DiagnosticLog struct {
	logger *zap.Logger
	close  func()
}

// NewDiagnosticLog opens path for appending JSON diagnostic records.
func NewDiagnosticLog(path string) (*DiagnosticLog, error) {
	sink, closeSink, err := zap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open diagnostic log: %w", err)
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, zapcore.DebugLevel)
	return &DiagnosticLog{logger: zap.New(core), close: closeSink}, nil
}

// Write records every diagnostic with the run it belongs to.
func (l *DiagnosticLog) Write(runID, configuration string, ds []diag.Diagnostic) {
	for _, d := range ds {
		fields := []zap.Field{
			zap.String("run", runID),
			zap.String("configuration", configuration),
			zap.Object("diagnostic", d),
		}
		if d.Severity == diag.SevError {
			l.logger.Error(d.Kind.String(), fields...)
		} else {
			l.logger.Warn(d.Kind.String(), fields...)
		}
	}
}

// Close flushes and closes the log file.
func (l *DiagnosticLog) Close() error {
	err := l.logger.Sync()
	l.close()
	return err
}
