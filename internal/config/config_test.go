package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.SchemaVersion != "1.0" {
		t.Fatalf("unexpected schemaVersion %s", cfg.SchemaVersion)
	}
	if cfg.Paths.OutputDir != ".sfcheck" {
		t.Fatalf("unexpected output dir %s", cfg.Paths.OutputDir)
	}
	if cfg.Scan.APIVersionFloor != 52.0 {
		t.Fatalf("unexpected api version floor %v", cfg.Scan.APIVersionFloor)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestResolve_NoConfigPath(t *testing.T) {
	cfg, path, warnings, err := Resolve(Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if path != "" {
		t.Fatalf("expected empty config path, got %s", path)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if cfg.App.Name != "sfcheck" {
		t.Fatalf("unexpected app name %s", cfg.App.Name)
	}
}

func TestResolve_OverrideMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	override := `{
  "schemaVersion": "1.0",
  "scan": {
    "api_version_floor": 58.0,
    "trigger_name_suffix": "Handler"
  }
}`
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, cfgPath, _, err := Resolve(Flags{ConfigPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if cfgPath != path {
		t.Fatalf("expected config path %s, got %s", path, cfgPath)
	}
	if cfg.Scan.APIVersionFloor != 58.0 {
		t.Fatalf("override not applied: %v", cfg.Scan.APIVersionFloor)
	}
	if cfg.Scan.TriggerNameSuffix != "Handler" {
		t.Fatalf("override not applied: %s", cfg.Scan.TriggerNameSuffix)
	}
	// Unset fields fall back to defaults
	if cfg.Scan.ClassNamePattern == "" {
		t.Fatal("class_name_pattern should default")
	}
	if len(cfg.Scan.SourceDirs) == 0 {
		t.Fatal("source_dirs should default")
	}
	if cfg.Paths.OutputDir != ".sfcheck" {
		t.Fatalf("output dir should default, got %s", cfg.Paths.OutputDir)
	}
}

func TestResolve_CapsTestRatioFloor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	override := `{"scan": {"test_ratio_floor": 2.5}}`
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, warnings, err := Resolve(Flags{ConfigPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scan.TestRatioFloor != 1.0 {
		t.Fatalf("expected cap at 1.0, got %v", cfg.Scan.TestRatioFloor)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected cap warning, got %v", warnings)
	}
}

func TestResolve_MissingFile(t *testing.T) {
	if _, _, _, err := Resolve(Flags{ConfigPath: filepath.Join(t.TempDir(), "nope.json")}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_BadSchemaVersion(t *testing.T) {
	cfg := Default()
	cfg.SchemaVersion = "2.0"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected schemaVersion error")
	}
}

func TestValidate_BadAPIVersionFloor(t *testing.T) {
	cfg := Default()
	cfg.Scan.APIVersionFloor = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected api_version_floor error")
	}
}

func TestLoad_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
