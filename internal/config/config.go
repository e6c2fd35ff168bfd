package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the compiled-in configuration with optional overrides.
type Config struct {
	SchemaVersion string        `json:"schemaVersion"`
	App           AppConfig     `json:"app"`
	Paths         PathsConfig   `json:"paths"`
	Reports       ReportsConfig `json:"reports"`
	Logging       LoggingConfig `json:"logging"`
	Scan          ScanConfig    `json:"scan"`
}

type AppConfig struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
}

type PathsConfig struct {
	WorkspaceRoot string `json:"workspaceRoot"`
	OutputDir     string `json:"outputDir"`
	CacheDir      string `json:"cacheDir"`
}

type ReportsConfig struct {
	SARIF ReportConfig `json:"sarif"`
	JUnit ReportConfig `json:"junit"`
	Hints ReportConfig `json:"hints"`
}

type ReportConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// ScanConfig drives the metadata rule engine. Every knob has a compiled-in
// default so the checker runs against a bare sfdx project with no setup.
type ScanConfig struct {
	SourceDirs                []string `json:"source_dirs"`
	ExcludeDirs               []string `json:"exclude_dirs"`
	ManifestPaths             []string `json:"manifest_paths"`
	APIVersionFloor           float64  `json:"api_version_floor"`
	ClassNamePattern          string   `json:"class_name_pattern"`
	TriggerNameSuffix         string   `json:"trigger_name_suffix"`
	TestClassSuffix           string   `json:"test_class_suffix"`
	TestRatioFloor            float64  `json:"test_ratio_floor"`
	IDPrefixes                []string `json:"id_prefixes"`
	HardcodedURLPatterns      []string `json:"hardcoded_url_patterns"`
	DeprecatedExtensions      []string `json:"deprecated_extensions"`
	DeprecatedFlowType        string   `json:"deprecated_flow_type"`
	ProtectedPaths            []string `json:"protected_paths"`
	SemanticLockMarker        string   `json:"semantic_lock_marker"`
	HistoryMaxSnapshots       int      `json:"history_max_snapshots"`
	HistoryKeepDays           int      `json:"history_keep_days"`
	NamingEnforcement         string   `json:"naming_enforcement"`
	DeprecatedEnforcement     string   `json:"deprecated_enforcement"`
	TestRatioEnforcement      string   `json:"test_ratio_enforcement"`
	APIVersionEnforcement     string   `json:"api_version_enforcement"`
	MetaTemplateAPIVersion    string   `json:"meta_template_api_version"`
	TriggerLoopScanExtensions []string `json:"trigger_loop_scan_extensions"`
}

type Flags struct {
	ConfigPath string
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		SchemaVersion: "1.0",
		App: AppConfig{
			Name:    "sfcheck",
			Channel: "release",
		},
		Paths: PathsConfig{
			WorkspaceRoot: ".",
			OutputDir:     ".sfcheck",
			CacheDir:      ".sfcheck/cache",
		},
		Reports: ReportsConfig{
			SARIF: ReportConfig{Enabled: true, Path: ".sfcheck/results.sarif"},
			JUnit: ReportConfig{Enabled: true, Path: ".sfcheck/junit.xml"},
			Hints: ReportConfig{Enabled: true, Path: ".sfcheck/hints.json"},
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Scan: ScanConfig{
			SourceDirs: []string{
				"force-app/",
				"src/",
			},
			ExcludeDirs: []string{
				".sfcheck",
				".sfdx",
				".git",
				"node_modules",
			},
			ManifestPaths: []string{
				"manifest/package.xml",
				"package.xml",
				"src/package.xml",
			},
			APIVersionFloor:   52.0,
			ClassNamePattern:  `^[A-Z][A-Za-z0-9_]*$`,
			TriggerNameSuffix: "Trigger",
			TestClassSuffix:   "Test",
			TestRatioFloor:    0.5,
			IDPrefixes: []string{
				"001", // Account
				"003", // Contact
				"005", // User
				"006", // Opportunity
				"00D", // Organization
				"00e", // Profile
				"00G", // Group
				"01p", // ApexClass
				"0Q0", // Quote
				"500", // Case
				"701", // Campaign
				"800", // Contract
			},
			HardcodedURLPatterns: []string{
				".salesforce.com",
				".force.com",
				".lightning.com",
				".visualforce.com",
			},
			DeprecatedExtensions: []string{
				".workflow",
				".workflow-meta.xml",
				".scf",
				".scf-meta.xml",
			},
			DeprecatedFlowType: "Workflow",
			ProtectedPaths: []string{
				"force-app/main/default/installedPackages/",
				"vendor/",
			},
			SemanticLockMarker:     "SFCHECK:LOCK",
			HistoryMaxSnapshots:    50,
			HistoryKeepDays:        14,
			NamingEnforcement:      "warn",
			DeprecatedEnforcement:  "warn",
			TestRatioEnforcement:   "warn",
			APIVersionEnforcement:  "warn",
			MetaTemplateAPIVersion: "60.0",
			TriggerLoopScanExtensions: []string{
				".trigger",
				".cls",
			},
		},
	}
}

// Load reads a JSON config from disk.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve applies defaults and optional overrides, then validates.
func Resolve(flags Flags) (Config, string, []string, error) {
	cfg := Default()
	var cfgPath string
	var warnings []string

	if flags.ConfigPath != "" {
		loaded, err := Load(flags.ConfigPath)
		if err != nil {
			return Config{}, "", nil, err
		}
		mergeConfigDefaults(&loaded, &cfg)
		cfg = loaded
		cfgPath = flags.ConfigPath
	}

	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = "1.0"
	}
	if cfg.Scan.TestRatioFloor > 1.0 {
		cfg.Scan.TestRatioFloor = 1.0
		warnings = append(warnings, "test_ratio_floor capped at 1.0")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, "", nil, err
	}

	return cfg, cfgPath, warnings, nil
}

// Validate checks the resolved configuration for consistency.
func (c *Config) Validate() error {
	if c.SchemaVersion != "1.0" {
		return fmt.Errorf("unsupported schemaVersion: %s (expected 1.0)", c.SchemaVersion)
	}
	if c.Scan.APIVersionFloor <= 0 {
		return fmt.Errorf("api_version_floor must be positive, got %v", c.Scan.APIVersionFloor)
	}
	return nil
}

func mergeConfigDefaults(cfg *Config, defaults *Config) {
	if cfg.Paths.OutputDir == "" {
		cfg.Paths.OutputDir = defaults.Paths.OutputDir
	}
	if cfg.Paths.CacheDir == "" {
		cfg.Paths.CacheDir = defaults.Paths.CacheDir
	}
	if cfg.Paths.WorkspaceRoot == "" {
		cfg.Paths.WorkspaceRoot = defaults.Paths.WorkspaceRoot
	}
	if cfg.App.Name == "" {
		cfg.App.Name = defaults.App.Name
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if len(cfg.Scan.SourceDirs) == 0 {
		cfg.Scan.SourceDirs = defaults.Scan.SourceDirs
	}
	if len(cfg.Scan.ExcludeDirs) == 0 {
		cfg.Scan.ExcludeDirs = defaults.Scan.ExcludeDirs
	}
	if len(cfg.Scan.ManifestPaths) == 0 {
		cfg.Scan.ManifestPaths = defaults.Scan.ManifestPaths
	}
	if cfg.Scan.APIVersionFloor == 0 {
		cfg.Scan.APIVersionFloor = defaults.Scan.APIVersionFloor
	}
	if cfg.Scan.ClassNamePattern == "" {
		cfg.Scan.ClassNamePattern = defaults.Scan.ClassNamePattern
	}
	if cfg.Scan.TriggerNameSuffix == "" {
		cfg.Scan.TriggerNameSuffix = defaults.Scan.TriggerNameSuffix
	}
	if cfg.Scan.TestClassSuffix == "" {
		cfg.Scan.TestClassSuffix = defaults.Scan.TestClassSuffix
	}
	if cfg.Scan.TestRatioFloor == 0 {
		cfg.Scan.TestRatioFloor = defaults.Scan.TestRatioFloor
	}
	if len(cfg.Scan.IDPrefixes) == 0 {
		cfg.Scan.IDPrefixes = defaults.Scan.IDPrefixes
	}
	if len(cfg.Scan.HardcodedURLPatterns) == 0 {
		cfg.Scan.HardcodedURLPatterns = defaults.Scan.HardcodedURLPatterns
	}
	if len(cfg.Scan.DeprecatedExtensions) == 0 {
		cfg.Scan.DeprecatedExtensions = defaults.Scan.DeprecatedExtensions
	}
	if cfg.Scan.DeprecatedFlowType == "" {
		cfg.Scan.DeprecatedFlowType = defaults.Scan.DeprecatedFlowType
	}
	if len(cfg.Scan.ProtectedPaths) == 0 {
		cfg.Scan.ProtectedPaths = defaults.Scan.ProtectedPaths
	}
	if cfg.Scan.SemanticLockMarker == "" {
		cfg.Scan.SemanticLockMarker = defaults.Scan.SemanticLockMarker
	}
	if cfg.Scan.HistoryMaxSnapshots == 0 {
		cfg.Scan.HistoryMaxSnapshots = defaults.Scan.HistoryMaxSnapshots
	}
	if cfg.Scan.HistoryKeepDays == 0 {
		cfg.Scan.HistoryKeepDays = defaults.Scan.HistoryKeepDays
	}
	if cfg.Scan.NamingEnforcement == "" {
		cfg.Scan.NamingEnforcement = defaults.Scan.NamingEnforcement
	}
	if cfg.Scan.DeprecatedEnforcement == "" {
		cfg.Scan.DeprecatedEnforcement = defaults.Scan.DeprecatedEnforcement
	}
	if cfg.Scan.TestRatioEnforcement == "" {
		cfg.Scan.TestRatioEnforcement = defaults.Scan.TestRatioEnforcement
	}
	if cfg.Scan.APIVersionEnforcement == "" {
		cfg.Scan.APIVersionEnforcement = defaults.Scan.APIVersionEnforcement
	}
	if cfg.Scan.MetaTemplateAPIVersion == "" {
		cfg.Scan.MetaTemplateAPIVersion = defaults.Scan.MetaTemplateAPIVersion
	}
	if len(cfg.Scan.TriggerLoopScanExtensions) == 0 {
		cfg.Scan.TriggerLoopScanExtensions = defaults.Scan.TriggerLoopScanExtensions
	}
}
