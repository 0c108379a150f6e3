package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if p.Pack.TotalCap != 8 {
		t.Errorf("expected pack cap 8, got %d", p.Pack.TotalCap)
	}
	if p.EpisodeSoftCap != 12 {
		t.Errorf("expected soft cap 12, got %d", p.EpisodeSoftCap)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	yaml := `
pack:
  total_cap: 5
novelty:
  duplicate_lexical: 0.9
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Pack.TotalCap != 5 {
		t.Errorf("expected overridden total cap 5, got %d", p.Pack.TotalCap)
	}
	if p.Novelty.DuplicateLexical != 0.9 {
		t.Errorf("expected overridden lexical threshold, got %v", p.Novelty.DuplicateLexical)
	}
	// Untouched settings fall through to defaults.
	if p.Pack.TopicCap != 2 {
		t.Errorf("expected default topic cap 2, got %d", p.Pack.TopicCap)
	}
	if p.EpisodeSoftCap != 12 {
		t.Errorf("expected default soft cap 12, got %d", p.EpisodeSoftCap)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Pack.TotalCap != 8 {
		t.Errorf("expected defaults, got total cap %d", p.Pack.TotalCap)
	}
}

func TestValidateRejectsBadCaps(t *testing.T) {
	p := Default()
	p.Pack.TotalCap = 0
	if err := p.Validate(); err == nil {
		t.Error("expected error for zero total cap")
	}

	p = Default()
	p.BudgetCaps["repo"]["fact"] = -1
	if err := p.Validate(); err == nil {
		t.Error("expected error for negative budget")
	}
}

func TestValidateClampsExpansionHops(t *testing.T) {
	p := Default()
	p.Expansion.MaxHops = 10
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if p.Expansion.MaxHops != HopCeiling {
		t.Errorf("expected hops clamped to %d, got %d", HopCeiling, p.Expansion.MaxHops)
	}
}
