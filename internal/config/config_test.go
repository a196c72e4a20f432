package config

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !cfg.AutoTap || cfg.AutoTokenFlip {
		t.Fatalf("unexpected auto toggles: %+v", cfg)
	}
	if cfg.ScoreMin != 5 || cfg.ScoreMax != 30 {
		t.Fatalf("expected default score range 5..30, got %d..%d", cfg.ScoreMin, cfg.ScoreMax)
	}
	if cfg.RetryDelay != 30*time.Second {
		t.Fatalf("expected default retry delay 30s, got %v", cfg.RetryDelay)
	}
	if cfg.StatusPort != 0 {
		t.Fatalf("expected status API disabled by default, got %d", cfg.StatusPort)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(map[string]string{
		"NIGHT_MODE":   "true",
		"EMPIRE_LEVEL": "3",
		"STATUS_PORT":  "8080",
		"RETRY_DELAY":  "5s",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !cfg.NightMode || cfg.EmpireLevel != 3 || cfg.StatusPort != 8080 || cfg.RetryDelay != 5*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"score range": {"SCORE_MIN": "10", "SCORE_MAX": "5"},
		"ws scheme":   {"WS_URL": "https://example.com/ws"},
		"port":        {"STATUS_PORT": "70000"},
		"empire":      {"EMPIRE_LEVEL": "0"},
		"not a bool":  {"AUTO_TAP": "maybe"},
		"log format":  {"LOG_FORMAT": "xml"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfigFromEnv(vars); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
