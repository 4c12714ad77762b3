package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("Default() should validate cleanly: %v", err)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "verbose"
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected an error for an invalid log level")
	}
}

func TestValidateRejectsBadTransportKind(t *testing.T) {
	cfg := Default()
	cfg.Transport.Kind = "udp"
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected an error for an unsupported transport kind")
	}
}

func TestValidateRejectsInvertedHandshakeRounds(t *testing.T) {
	cfg := Default()
	cfg.Handshake.RoundsMin = 20
	cfg.Handshake.RoundsMax = 5
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected an error for inverted rounds bounds")
	}
}

func TestValidateRejectsUnknownCurve(t *testing.T) {
	cfg := Default()
	cfg.Identity.Curve = "secp112r1"
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected an error for an unknown curve name")
	}
}

func TestValidateFillsEmptyOutputsAndWorkers(t *testing.T) {
	cfg := Default()
	cfg.Log.Outputs = nil
	cfg.Runtime.Workers = 0
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(cfg.Log.Outputs) != 1 || cfg.Log.Outputs[0] != "stdout" {
		t.Fatalf("expected outputs to default to [stdout], got %v", cfg.Log.Outputs)
	}
	if cfg.Runtime.Workers != 8 {
		t.Fatalf("expected workers to default to 8, got %d", cfg.Runtime.Workers)
	}
}

func TestLoadWithExplicitMissingFileReturnsError(t *testing.T) {
	t.Setenv("NODECORE_CONFIG", "")
	cfg, err := Load("/nonexistent/path/does-not-matter.yaml")
	if err == nil {
		t.Fatalf("expected an error reading an explicitly-named missing file")
	}
	_ = cfg
}
