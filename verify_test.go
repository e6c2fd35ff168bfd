package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sfops/sfcheck/internal/support"
)

// ---------------------------------------------------------------------------
// Helper constructors
// ---------------------------------------------------------------------------

func boolP(b bool) *bool { return &b }
func intP(n int) *int    { return &n }

// ---------------------------------------------------------------------------
// Unit tests for evaluateGating
// ---------------------------------------------------------------------------

func TestGating_MaxErrorsExceeded(t *testing.T) {
	// max_errors: 1, errorCount=2 -> FAIL
	cfg := &VerifyConfig{MaxErrors: intP(1), FailOnError: boolP(false), AllowWarnings: boolP(true)}
	r := evaluateGating(cfg, 2, 0, 5)
	if r.Pass {
		t.Fatal("expected FAIL when errorCount (2) > max_errors (1)")
	}
	assertContains(t, r.Message, "exceeded max_errors")
}

func TestGating_MaxErrorsEqual(t *testing.T) {
	// max_errors: 2, errorCount=2 -> PASS (equal is within cap)
	cfg := &VerifyConfig{MaxErrors: intP(2), FailOnError: boolP(false), AllowWarnings: boolP(true)}
	r := evaluateGating(cfg, 2, 0, 5)
	if !r.Pass {
		t.Fatalf("expected PASS when errorCount (2) == max_errors (2), got reasons: %v", r.Reasons)
	}
	assertContains(t, r.Message, "PASSED")
}

func TestGating_MaxWarningsExceeded(t *testing.T) {
	cfg := &VerifyConfig{MaxWarnings: intP(3), FailOnError: boolP(false), AllowWarnings: boolP(true)}
	r := evaluateGating(cfg, 0, 4, 5)
	if r.Pass {
		t.Fatal("expected FAIL when warningCount (4) > max_warnings (3)")
	}
	assertContains(t, r.Message, "exceeded max_warnings")
}

func TestGating_AllowWarningsFalse_CapsUnset(t *testing.T) {
	cfg := &VerifyConfig{AllowWarnings: boolP(false), FailOnError: boolP(false)}
	r := evaluateGating(cfg, 0, 1, 5)
	if r.Pass {
		t.Fatal("expected FAIL when allow_warnings=false and warningCount > 0")
	}
	assertContains(t, r.Message, "allow_warnings disabled")
}

func TestGating_FailOnErrorTrue_CapsUnset(t *testing.T) {
	cfg := &VerifyConfig{FailOnError: boolP(true), AllowWarnings: boolP(true)}
	r := evaluateGating(cfg, 1, 0, 5)
	if r.Pass {
		t.Fatal("expected FAIL when fail_on_error=true and errorCount > 0")
	}
	assertContains(t, r.Message, "fail_on_error enabled")
}

func TestGating_MaxErrorsWithFailOnError_BothApply(t *testing.T) {
	// Caps pass (3 <= 5) but the boolean still fails (3 > 0): caps never
	// override fail_on_error.
	cfg := &VerifyConfig{MaxErrors: intP(5), FailOnError: boolP(true), AllowWarnings: boolP(true)}
	r := evaluateGating(cfg, 3, 0, 5)
	if r.Pass {
		t.Fatal("expected FAIL: fail_on_error=true should still fail even within max_errors cap")
	}
	assertContains(t, r.Message, "fail_on_error enabled")
}

func TestGating_MaxErrorsWithFailOnErrorFalse(t *testing.T) {
	// Caps allow tolerable debt when the boolean is disabled
	cfg := &VerifyConfig{MaxErrors: intP(5), FailOnError: boolP(false), AllowWarnings: boolP(true)}
	r := evaluateGating(cfg, 3, 0, 5)
	if !r.Pass {
		t.Fatalf("expected PASS: fail_on_error=false and errorCount (3) <= max_errors (5), got reasons: %v", r.Reasons)
	}
	assertContains(t, r.Message, "PASSED")
	assertContains(t, r.Message, "max_errors=5")
}

func TestGating_DefaultsNoConfig(t *testing.T) {
	// Empty config -> defaults: fail_on_error=true, allow_warnings=true
	cfg := &VerifyConfig{}

	r := evaluateGating(cfg, 0, 0, 5)
	if !r.Pass {
		t.Fatal("expected PASS with zero violations and default config")
	}

	r = evaluateGating(cfg, 1, 0, 5)
	if r.Pass {
		t.Fatal("expected FAIL: default fail_on_error=true and errorCount > 0")
	}

	// Warnings alone pass by default
	r = evaluateGating(cfg, 0, 3, 5)
	if !r.Pass {
		t.Fatalf("expected PASS: default allow_warnings=true, got reasons: %v", r.Reasons)
	}
}

func TestGating_PassMessage_WithCaps(t *testing.T) {
	cfg := &VerifyConfig{MaxErrors: intP(5), MaxWarnings: intP(10), FailOnError: boolP(false), AllowWarnings: boolP(true)}
	r := evaluateGating(cfg, 2, 3, 10)
	if !r.Pass {
		t.Fatalf("expected PASS, got: %v", r.Reasons)
	}
	assertContains(t, r.Message, "errors=2 (max_errors=5)")
	assertContains(t, r.Message, "warnings=3 (max_warnings=10)")
}

func TestGating_PassMessage_NoCaps(t *testing.T) {
	cfg := &VerifyConfig{FailOnError: boolP(false), AllowWarnings: boolP(true)}
	r := evaluateGating(cfg, 0, 0, 8)
	if !r.Pass {
		t.Fatal("expected PASS")
	}
	assertContains(t, r.Message, "errors=0, warnings=0, passed=8")
}

// ---------------------------------------------------------------------------
// YAML config parsing
// ---------------------------------------------------------------------------

func TestParseVerifyConfigYAML_Full(t *testing.T) {
	yaml := `
# Gating config
fail_on_error: true
allow_warnings: false
max_errors: 0
max_warnings: 5
`
	cfg, err := parseVerifyConfigYAML([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FailOnError == nil || *cfg.FailOnError != true {
		t.Fatal("expected fail_on_error=true")
	}
	if cfg.AllowWarnings == nil || *cfg.AllowWarnings != false {
		t.Fatal("expected allow_warnings=false")
	}
	if cfg.MaxErrors == nil || *cfg.MaxErrors != 0 {
		t.Fatal("expected max_errors=0")
	}
	if cfg.MaxWarnings == nil || *cfg.MaxWarnings != 5 {
		t.Fatal("expected max_warnings=5")
	}
}

func TestParseVerifyConfigYAML_Empty(t *testing.T) {
	cfg, err := parseVerifyConfigYAML([]byte(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FailOnError != nil || cfg.AllowWarnings != nil || cfg.MaxErrors != nil || cfg.MaxWarnings != nil {
		t.Fatal("expected all nil for empty config")
	}
}

func TestParseVerifyConfigYAML_Partial(t *testing.T) {
	yaml := `max_errors: 3`
	cfg, err := parseVerifyConfigYAML([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxErrors == nil || *cfg.MaxErrors != 3 {
		t.Fatal("expected max_errors=3")
	}
	if cfg.FailOnError != nil {
		t.Fatal("expected fail_on_error nil when not specified")
	}
}

// ---------------------------------------------------------------------------
// Integration: verify writes correct certificate
// ---------------------------------------------------------------------------

func TestVerify_CertificateOutput(t *testing.T) {
	root := testWorkspace(t)
	outDir := filepath.Join(root, ".sfcheck")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	configYAML := "fail_on_error: true\nallow_warnings: false\nmax_errors: 1\n"
	if err := os.WriteFile(filepath.Join(outDir, "config.yml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	// Two errors exceed max_errors=1
	results := ScanResults{
		Errors: []Violation{
			{Rule: "HARDCODED_ID", Message: "hardcoded record ID", File: "Leaky.cls", Line: 42},
			{Rule: "XML_WELL_FORMED", Message: "malformed XML", File: "Bad.cls-meta.xml", Line: 1},
		},
		Warnings: []Violation{},
		Passed: []Violation{
			{Rule: "MANIFEST_VALID", Message: "ok"},
		},
	}
	data, _ := json.Marshal(results)
	if err := os.WriteFile(filepath.Join(outDir, "results.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadVerifyConfig(root)
	if err != nil {
		t.Fatal(err)
	}
	scanResults, err := loadScanResults(root)
	if err != nil {
		t.Fatal(err)
	}

	result := evaluateGating(cfg, len(scanResults.Errors), len(scanResults.Warnings), len(scanResults.Passed))
	if _, _, err := generateVerifyCertificate(root, result); err != nil {
		t.Fatal(err)
	}

	certData, err := os.ReadFile(filepath.Join(outDir, "certificate.json"))
	if err != nil {
		t.Fatal(err)
	}

	var cert support.Certificate
	if err := json.Unmarshal(certData, &cert); err != nil {
		t.Fatal(err)
	}

	if cert.Pass {
		t.Fatal("certificate should show FAIL for errorCount=2 > max_errors=1")
	}
	if cert.ErrorCount != 2 {
		t.Fatalf("expected errorCount=2, got %d", cert.ErrorCount)
	}
	if cert.MaxErrors == nil || *cert.MaxErrors != 1 {
		t.Fatal("expected max_errors=1 in certificate")
	}
	if !cert.Policy.FailOnError {
		t.Fatal("expected fail_on_error=true in certificate policy")
	}
}

func TestVerify_SARIFOutput(t *testing.T) {
	root := testWorkspace(t)
	os.MkdirAll(filepath.Join(root, ".sfcheck"), 0o755)

	scanResults := &ScanResults{
		Errors:   []Violation{{Rule: "HARDCODED_ID", Message: "issue", File: "A.cls", Line: 1}},
		Warnings: []Violation{{Rule: "NAMING_CONVENTION", Message: "warning", File: "b.cls", Line: 5}},
	}
	verifyResult := &VerifyResult{Pass: false, Message: "FAILED: test"}

	if err := writeSARIF(root, scanResults, verifyResult); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, ".sfcheck", "results.sarif"))
	if err != nil {
		t.Fatal(err)
	}

	var doc sarifDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(doc.Runs))
	}
	if doc.Runs[0].Tool.Driver.Name != "sfcheck" {
		t.Fatalf("unexpected tool name %q", doc.Runs[0].Tool.Driver.Name)
	}
	// 1 error + 1 warning + 1 gate = 3 results
	if len(doc.Runs[0].Results) != 3 {
		t.Fatalf("expected 3 SARIF results, got %d", len(doc.Runs[0].Results))
	}
	if doc.Runs[0].Results[0].Level != "error" {
		t.Fatalf("expected first result level=error, got %s", doc.Runs[0].Results[0].Level)
	}
}

func TestVerify_JUnitOutput(t *testing.T) {
	root := testWorkspace(t)
	os.MkdirAll(filepath.Join(root, ".sfcheck"), 0o755)

	scanResults := &ScanResults{
		Errors:   []Violation{{Rule: "HARDCODED_ID", Message: "issue"}},
		Warnings: []Violation{},
		Passed:   []Violation{{Rule: "MANIFEST_VALID", Message: "good"}},
	}
	verifyResult := &VerifyResult{Pass: false, Message: "FAILED: test"}

	if err := writeJUnit(root, scanResults, verifyResult); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, ".sfcheck", "junit.xml"))
	if err != nil {
		t.Fatal(err)
	}

	content := string(data)
	if !strings.Contains(content, `<?xml version="1.0"`) {
		t.Fatal("missing XML header")
	}
	if !strings.Contains(content, `name="sfcheck-verify"`) {
		t.Fatal("missing testsuite name")
	}
	if !strings.Contains(content, `name="deployment-gate"`) {
		t.Fatal("missing gate testcase")
	}
}

func TestVerify_JUnitToleratedWarningsSkipped(t *testing.T) {
	root := testWorkspace(t)
	os.MkdirAll(filepath.Join(root, ".sfcheck"), 0o755)

	scanResults := &ScanResults{
		Warnings: []Violation{{Rule: "TEST_CLASS_RATIO", Message: "low ratio"}},
	}
	verifyResult := &VerifyResult{Pass: true, Message: "PASSED", AllowWarnings: boolP(true)}

	if err := writeJUnit(root, scanResults, verifyResult); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, ".sfcheck", "junit.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "warning tolerated by gating") {
		t.Fatal("expected tolerated warning to be marked skipped")
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("expected %q to contain %q", s, substr)
	}
}
