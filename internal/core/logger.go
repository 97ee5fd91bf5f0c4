package core

// ILogger is the structured-logging capability every component depends on.
// Implemented by pkg/logging.ZapLogger; components never import zap
// directly so the core stays free of logging-library coupling.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
