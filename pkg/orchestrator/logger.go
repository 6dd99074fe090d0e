package orchestrator

import "go.uber.org/zap"

// ZapLogger adapts a *zap.SugaredLogger to the Logger interface, so the
// conversation core and its collaborators log through the same structured
// pipeline as the rest of the process.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

func (z *ZapLogger) Debug(msg string, args ...interface{}) { z.sugar.Debugw(msg, args...) }
func (z *ZapLogger) Info(msg string, args ...interface{})  { z.sugar.Infow(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...interface{})  { z.sugar.Warnw(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...interface{}) { z.sugar.Errorw(msg, args...) }
