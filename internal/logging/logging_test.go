package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	if New(Options{}).Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug disabled by default")
	}
	if !New(Options{Debug: true, Format: "json"}).Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug enabled")
	}
}
