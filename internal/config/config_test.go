package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.APIPort != "8080" {
		t.Errorf("APIPort = %s", cfg.APIPort)
	}
	if cfg.NATSSubject != "notifications" {
		t.Errorf("NATSSubject = %s", cfg.NATSSubject)
	}
	if cfg.ReviewWorkflowType != "periodic_review" {
		t.Errorf("ReviewWorkflowType = %s", cfg.ReviewWorkflowType)
	}
	if cfg.SweepBatchSize != 100 {
		t.Errorf("SweepBatchSize = %d", cfg.SweepBatchSize)
	}
	if cfg.SweepTimeout != 5*time.Minute {
		t.Errorf("SweepTimeout = %v", cfg.SweepTimeout)
	}
	if cfg.EscalateAfterBlockedSweeps != 3 {
		t.Errorf("EscalateAfterBlockedSweeps = %d", cfg.EscalateAfterBlockedSweeps)
	}
	if cfg.APIRateLimitRPS != 50 || cfg.APIRateLimitBurst != 100 {
		t.Errorf("rate limit = %v/%d", cfg.APIRateLimitRPS, cfg.APIRateLimitBurst)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("API_PORT", "9999")
	t.Setenv("SWEEP_BATCH_SIZE", "25")
	t.Setenv("SWEEP_TIMEOUT", "90s")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("SWEEP_EFFECTIVE_SPEC", "@every 5m")

	cfg := Load()
	if cfg.APIPort != "9999" {
		t.Errorf("APIPort = %s", cfg.APIPort)
	}
	if cfg.SweepBatchSize != 25 {
		t.Errorf("SweepBatchSize = %d", cfg.SweepBatchSize)
	}
	if cfg.SweepTimeout != 90*time.Second {
		t.Errorf("SweepTimeout = %v", cfg.SweepTimeout)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Errorf("APIRateLimitRPS = %v", cfg.APIRateLimitRPS)
	}
	if cfg.SweepEffectiveSpec != "@every 5m" {
		t.Errorf("SweepEffectiveSpec = %s", cfg.SweepEffectiveSpec)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SWEEP_BATCH_SIZE", "many")
	t.Setenv("SWEEP_TIMEOUT", "soon")
	t.Setenv("API_RATE_LIMIT_RPS", "fast")

	cfg := Load()
	if cfg.SweepBatchSize != 100 {
		t.Errorf("SweepBatchSize = %d", cfg.SweepBatchSize)
	}
	if cfg.SweepTimeout != 5*time.Minute {
		t.Errorf("SweepTimeout = %v", cfg.SweepTimeout)
	}
	if cfg.APIRateLimitRPS != 50 {
		t.Errorf("APIRateLimitRPS = %v", cfg.APIRateLimitRPS)
	}
}
