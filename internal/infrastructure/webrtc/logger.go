package webrtc

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
)

// loggerFactory routes pion's internal logging into zap, one named logger
// per pion scope. Trace output is folded into debug.
type loggerFactory struct {
	logger *zap.SugaredLogger
}

func NewLoggerFactory(logger *zap.SugaredLogger) logging.LoggerFactory {
	return &loggerFactory{logger: logger.Named("pion")}
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{l: f.logger.Named(scope)}
}

type leveledLogger struct {
	l *zap.SugaredLogger
}

func (z *leveledLogger) Trace(msg string) { z.l.Debug(msg) }
func (z *leveledLogger) Tracef(format string, args ...interface{}) { z.l.Debugf(format, args...) }
func (z *leveledLogger) Debug(msg string) { z.l.Debug(msg) }
func (z *leveledLogger) Debugf(format string, args ...interface{}) { z.l.Debugf(format, args...) }
func (z *leveledLogger) Info(msg string) { z.l.Info(msg) }
func (z *leveledLogger) Infof(format string, args ...interface{}) { z.l.Infof(format, args...) }
func (z *leveledLogger) Warn(msg string) { z.l.Warn(msg) }
func (z *leveledLogger) Warnf(format string, args ...interface{}) { z.l.Warnf(format, args...) }
func (z *leveledLogger) Error(msg string) { z.l.Error(msg) }
func (z *leveledLogger) Errorf(format string, args ...interface{}) { z.l.Errorf(format, args...) }
