package logging

import "testing"

func TestZapLogger_OTelBridge(t *testing.T) {
	// global.GetLoggerProvider() falls back to a no-op provider when
	// nothing has registered one; this just exercises the otelzap bridge
	// wiring without crashing.
	logger, err := NewZapLogger("DEBUG")
	if err != nil {
		t.Fatalf("zap logger creation failed: %v", err)
	}

	logger.Info("test otel bridging", "key", "value")
	logger.Debug("debug message", "status", "testing")

	withField := logger.WithField("component", "test")
	withField.Warn("warn with field")

	if err := logger.Sync(); err != nil {
		t.Logf("sync returned %v (expected for some stdout writers)", err)
	}
}
