package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "core.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	path := writeConfigFile(t, "symbol: EURUSD\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Symbol != "EURUSD" {
		t.Fatalf("symbol = %q, want EURUSD", cfg.Symbol)
	}
	if cfg.PollInterval != 15 {
		t.Fatalf("poll_interval default = %d, want 15", cfg.PollInterval)
	}
	if cfg.Mindset != MindsetBalanced {
		t.Fatalf("mindset default = %q, want balanced", cfg.Mindset)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfigFile(t, "symbol: EURUSD\nbogus_unknown_key: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unrecognized top-level key")
	}
}

func TestLoadRejectsMissingSymbol(t *testing.T) {
	path := writeConfigFile(t, "poll_interval: 30\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a missing required symbol")
	}
}

func TestLoadRejectsPollIntervalBelowFive(t *testing.T) {
	path := writeConfigFile(t, "symbol: EURUSD\npoll_interval: 2\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for poll_interval below the 5-second floor")
	}
}

func TestMindsetOverlayAppliesBeneathExplicitOptions(t *testing.T) {
	path := writeConfigFile(t, "symbol: EURUSD\nmindset: aggressive\nrisk:\n  max_position_size_pct: 0.5\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Risk.MaxPositionSizePct != 0.5 {
		t.Fatalf("explicit risk.max_position_size_pct overridden by mindset: got %v", cfg.Risk.MaxPositionSizePct)
	}
}

func TestMindsetOverlayAppliesWhenNotExplicit(t *testing.T) {
	path := writeConfigFile(t, "symbol: EURUSD\nmindset: conservative\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Risk.MaxPositionSizePct != 1.0 {
		t.Fatalf("conservative overlay not applied: got %v", cfg.Risk.MaxPositionSizePct)
	}
}

func TestLoadRejectsHardCapAbove15Percent(t *testing.T) {
	path := writeConfigFile(t, "symbol: EURUSD\nrisk:\n  sl_hard_cap_pct: 25\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected rejection of sl_hard_cap_pct above the 15% ceiling")
	}
}
