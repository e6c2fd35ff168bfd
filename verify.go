package main

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sfops/sfcheck/internal/support"
	"gopkg.in/yaml.v3"
)

// VerifyConfig represents .sfcheck/config.yml gating configuration.
// Pointer fields distinguish "unset" from zero values.
type VerifyConfig struct {
	FailOnError   *bool `json:"fail_on_error,omitempty" yaml:"fail_on_error"`
	AllowWarnings *bool `json:"allow_warnings,omitempty" yaml:"allow_warnings"`
	MaxErrors     *int  `json:"max_errors,omitempty" yaml:"max_errors"`
	MaxWarnings   *int  `json:"max_warnings,omitempty" yaml:"max_warnings"`
}

// Violation represents a single check finding.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ScanResults represents the bucketed output of a metadata scan.
type ScanResults struct {
	Errors   []Violation `json:"errors"`
	Warnings []Violation `json:"warnings"`
	Passed   []Violation `json:"passed"`
}

// VerifyResult is the output of the gating decision.
type VerifyResult struct {
	Pass          bool     `json:"pass"`
	Message       string   `json:"message"`
	ErrorCount    int      `json:"errorCount"`
	WarningCount  int      `json:"warningCount"`
	PassCount     int      `json:"passCount"`
	FailOnError   *bool    `json:"fail_on_error,omitempty"`
	AllowWarnings *bool    `json:"allow_warnings,omitempty"`
	MaxErrors     *int     `json:"max_errors,omitempty"`
	MaxWarnings   *int     `json:"max_warnings,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
	Timestamp     string   `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Config loading (.sfcheck/config.yml) - YAML parser
// ---------------------------------------------------------------------------

func loadVerifyConfig(workspaceRoot string) (*VerifyConfig, error) {
	configPath := filepath.Join(workspaceRoot, config.Paths.OutputDir, "config.yml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &VerifyConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read verify config %s: %w", configPath, err)
	}
	return parseVerifyConfigYAML(support.StripBOM(data))
}

// parseVerifyConfigYAML parses .sfcheck/config.yml using YAML v3.
func parseVerifyConfigYAML(data []byte) (*VerifyConfig, error) {
	cfg := &VerifyConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse verify config: %w", err)
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Scan results loading
// ---------------------------------------------------------------------------

func loadScanResults(workspaceRoot string) (*ScanResults, error) {
	resultsPath := filepath.Join(workspaceRoot, config.Paths.OutputDir, "results.json")
	data, err := os.ReadFile(resultsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan results %s: %w", resultsPath, err)
	}
	var results ScanResults
	if err := json.Unmarshal(support.StripBOM(data), &results); err != nil {
		return nil, fmt.Errorf("failed to parse scan results: %w", err)
	}
	return &results, nil
}

// ---------------------------------------------------------------------------
// Gating logic
// ---------------------------------------------------------------------------

// evaluateGating applies numeric caps then boolean rules and returns the verdict.
func evaluateGating(cfg *VerifyConfig, errorCount, warningCount, passCount int) *VerifyResult {
	result := &VerifyResult{
		Pass:          true,
		ErrorCount:    errorCount,
		WarningCount:  warningCount,
		PassCount:     passCount,
		FailOnError:   cfg.FailOnError,
		AllowWarnings: cfg.AllowWarnings,
		MaxErrors:     cfg.MaxErrors,
		MaxWarnings:   cfg.MaxWarnings,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	var reasons []string
	var primary string

	// Effective boolean defaults
	failOnError := true
	if cfg.FailOnError != nil {
		failOnError = *cfg.FailOnError
	}
	allowWarnings := true
	if cfg.AllowWarnings != nil {
		allowWarnings = *cfg.AllowWarnings
	}

	// 1. Numeric caps
	if cfg.MaxErrors != nil && errorCount > *cfg.MaxErrors {
		result.Pass = false
		msg := fmt.Sprintf("FAILED: errors (%d) exceeded max_errors (%d)", errorCount, *cfg.MaxErrors)
		reasons = append(reasons, msg)
		if primary == "" {
			primary = msg
		}
	}
	if cfg.MaxWarnings != nil && warningCount > *cfg.MaxWarnings {
		result.Pass = false
		msg := fmt.Sprintf("FAILED: warnings (%d) exceeded max_warnings (%d)", warningCount, *cfg.MaxWarnings)
		reasons = append(reasons, msg)
		if primary == "" {
			primary = msg
		}
	}

	// 2. Boolean rules
	if failOnError && errorCount > 0 {
		result.Pass = false
		msg := fmt.Sprintf("FAILED: %d errors detected (fail_on_error enabled)", errorCount)
		reasons = append(reasons, msg)
		if primary == "" {
			primary = msg
		}
	}
	if !allowWarnings && warningCount > 0 {
		result.Pass = false
		msg := fmt.Sprintf("FAILED: %d warnings detected (allow_warnings disabled)", warningCount)
		reasons = append(reasons, msg)
		if primary == "" {
			primary = msg
		}
	}

	result.Reasons = reasons

	// Build message
	if result.Pass {
		if cfg.MaxErrors != nil || cfg.MaxWarnings != nil {
			var parts []string
			if cfg.MaxErrors != nil {
				parts = append(parts, fmt.Sprintf("errors=%d (max_errors=%d)", errorCount, *cfg.MaxErrors))
			} else {
				parts = append(parts, fmt.Sprintf("errors=%d", errorCount))
			}
			if cfg.MaxWarnings != nil {
				parts = append(parts, fmt.Sprintf("warnings=%d (max_warnings=%d)", warningCount, *cfg.MaxWarnings))
			} else {
				parts = append(parts, fmt.Sprintf("warnings=%d", warningCount))
			}
			result.Message = fmt.Sprintf("PASSED: %s", strings.Join(parts, ", "))
		} else {
			result.Message = fmt.Sprintf("PASSED: errors=%d, warnings=%d, passed=%d", errorCount, warningCount, passCount)
		}
	} else {
		if primary != "" {
			result.Message = primary
		} else {
			result.Message = strings.Join(reasons, "; ")
		}
	}

	return result
}

// ---------------------------------------------------------------------------
// Output writers
// ---------------------------------------------------------------------------

// printHUD prints a human-readable summary to stdout.
func printHUD(result *VerifyResult) {
	fmt.Println("+--------------------------------------------------+")
	fmt.Println("|            sfcheck Deployment Verify             |")
	fmt.Println("+--------------------------------------------------+")

	status := "PASS"
	if !result.Pass {
		status = "FAIL"
	}
	fmt.Printf("|  Status:   %-38s|\n", status)
	fmt.Printf("|  ERRORS:   %-38s|\n", formatCount(result.ErrorCount, result.MaxErrors, "max_errors"))
	fmt.Printf("|  WARNINGS: %-38s|\n", formatCount(result.WarningCount, result.MaxWarnings, "max_warnings"))
	fmt.Printf("|  PASSED:   %-38d|\n", result.PassCount)

	if result.FailOnError != nil {
		fmt.Printf("|  fail_on_error:  %-32v|\n", *result.FailOnError)
	}
	if result.AllowWarnings != nil {
		fmt.Printf("|  allow_warnings: %-32v|\n", *result.AllowWarnings)
	}

	fmt.Println("+--------------------------------------------------+")
	if len(result.Reasons) > 0 {
		for _, r := range result.Reasons {
			// Wrap long reasons
			if len(r) > 48 {
				fmt.Printf("|  %-48s|\n", r[:48])
				fmt.Printf("|  %-48s|\n", r[48:])
			} else {
				fmt.Printf("|  %-48s|\n", r)
			}
		}
	} else {
		fmt.Printf("|  %-48s|\n", result.Message)
	}
	fmt.Println("+--------------------------------------------------+")
}
func formatCount(count int, cap *int, label string) string {
	if cap != nil {
		return fmt.Sprintf("%d (%s=%d)", count, label, *cap)
	}
	return fmt.Sprintf("%d", count)
}

// ---------------------------------------------------------------------------
// SARIF output
// ---------------------------------------------------------------------------

type sarifDocument struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}
type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}
type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}
type sarifDriver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
type sarifResult struct {
	RuleID  string          `json:"ruleId"`
	Level   string          `json:"level"`
	Message sarifMessage    `json:"message"`
	Locs    []sarifLocation `json:"locations,omitempty"`
}
type sarifMessage struct {
	Text string `json:"text"`
}
type sarifLocation struct {
	PhysicalLocation sarifPhysical `json:"physicalLocation"`
}
type sarifPhysical struct {
	ArtifactLocation sarifArtifact `json:"artifactLocation"`
	Region           *sarifRegion  `json:"region,omitempty"`
}
type sarifArtifact struct {
	URI string `json:"uri"`
}
type sarifRegion struct {
	StartLine int `json:"startLine"`
}

func writeSARIF(workspaceRoot string, scanResults *ScanResults, verifyResult *VerifyResult) error {
	var results []sarifResult

	for _, v := range scanResults.Errors {
		r := sarifResult{
			RuleID:  v.Rule,
			Level:   "error",
			Message: sarifMessage{Text: v.Message},
		}
		if v.File != "" {
			loc := sarifLocation{PhysicalLocation: sarifPhysical{ArtifactLocation: sarifArtifact{URI: v.File}}}
			if v.Line > 0 {
				loc.PhysicalLocation.Region = &sarifRegion{StartLine: v.Line}
			}
			r.Locs = append(r.Locs, loc)
		}
		results = append(results, r)
	}
	for _, v := range scanResults.Warnings {
		r := sarifResult{
			RuleID:  v.Rule,
			Level:   "warning",
			Message: sarifMessage{Text: v.Message},
		}
		if v.File != "" {
			loc := sarifLocation{PhysicalLocation: sarifPhysical{ArtifactLocation: sarifArtifact{URI: v.File}}}
			if v.Line > 0 {
				loc.PhysicalLocation.Region = &sarifRegion{StartLine: v.Line}
			}
			r.Locs = append(r.Locs, loc)
		}
		results = append(results, r)
	}

	// Add gating result as a summary entry
	if !verifyResult.Pass {
		results = append(results, sarifResult{
			RuleID:  "deployment-gate",
			Level:   "error",
			Message: sarifMessage{Text: verifyResult.Message},
		})
	}

	doc := sarifDocument{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool:    sarifTool{Driver: sarifDriver{Name: "sfcheck", Version: Version}},
			Results: results,
		}},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return support.WriteFileAtomic(filepath.Join(workspaceRoot, config.Paths.OutputDir, "results.sarif"), data)
}

// ---------------------------------------------------------------------------
// JUnit XML output
// ---------------------------------------------------------------------------

type junitTestsuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Testsuites []junitTestsuite `xml:"testsuite"`
}
type junitTestsuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []junitTestcase `xml:"testcase"`
}
type junitTestcase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}
type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}
type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

func writeJUnit(workspaceRoot string, scanResults *ScanResults, verifyResult *VerifyResult) error {
	var cases []junitTestcase
	failures := 0

	allowWarnings := true
	if verifyResult.AllowWarnings != nil {
		allowWarnings = *verifyResult.AllowWarnings
	}

	warningsViolated := (!allowWarnings && len(scanResults.Warnings) > 0)
	if verifyResult.MaxWarnings != nil && len(scanResults.Warnings) > *verifyResult.MaxWarnings {
		warningsViolated = true
	}

	for _, v := range scanResults.Errors {
		tc := junitTestcase{
			Name:      v.Rule,
			Classname: "sfcheck.error",
			Time:      "0",
			Failure: &junitFailure{
				Message: v.Message,
				Type:    "ERROR",
				Body:    fmt.Sprintf("%s: %s", v.File, v.Message),
			},
		}
		cases = append(cases, tc)
		failures++
	}
	for _, v := range scanResults.Warnings {
		tc := junitTestcase{
			Name:      v.Rule,
			Classname: "sfcheck.warning",
			Time:      "0",
		}
		// A warning is a failure only if warning gating is violated
		if warningsViolated {
			tc.Failure = &junitFailure{
				Message: v.Message,
				Type:    "WARNING",
				Body:    fmt.Sprintf("%s: %s", v.File, v.Message),
			}
			failures++
		} else {
			tc.Skipped = &junitSkipped{Message: "warning tolerated by gating"}
		}
		cases = append(cases, tc)
	}
	for _, v := range scanResults.Passed {
		cases = append(cases, junitTestcase{
			Name:      v.Rule,
			Classname: "sfcheck.passed",
			Time:      "0",
		})
	}

	// Add the gating verdict itself
	gateCase := junitTestcase{
		Name:      "deployment-gate",
		Classname: "sfcheck.verify",
		Time:      "0",
	}
	if !verifyResult.Pass {
		gateCase.Failure = &junitFailure{
			Message: verifyResult.Message,
			Type:    "GATE",
			Body:    verifyResult.Message,
		}
		failures++
	}
	cases = append(cases, gateCase)

	doc := junitTestsuites{
		Testsuites: []junitTestsuite{{
			Name:     "sfcheck-verify",
			Tests:    len(cases),
			Failures: failures,
			Time:     "0",
			Cases:    cases,
		}},
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	header := []byte(xml.Header)
	return support.WriteFileAtomic(filepath.Join(workspaceRoot, config.Paths.OutputDir, "junit.xml"), append(header, data...))
}

// ---------------------------------------------------------------------------
// runVerify orchestrates the full verify pipeline
// ---------------------------------------------------------------------------

func shouldExit() bool {
	return os.Getenv("SFCHECK_NO_EXIT") != "1"
}

func runVerify() {
	workspace := config.Paths.WorkspaceRoot

	// Load project-level verify config
	verifyCfg, err := loadVerifyConfig(workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		if shouldExit() {
			os.Exit(1)
		}
		return
	}

	// Load scan results
	scanResults, err := loadScanResults(workspace)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ERROR: Scan results missing: expected %s. Run `sfcheck scan` first.\n", filepath.Join(workspace, config.Paths.OutputDir, "results.json"))
			if shouldExit() {
				os.Exit(1)
			}
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		if shouldExit() {
			os.Exit(1)
		}
		return
	}

	// Evaluate gating
	result := evaluateGating(verifyCfg, len(scanResults.Errors), len(scanResults.Warnings), len(scanResults.Passed))

	// Ensure output directory exists
	if err := os.MkdirAll(filepath.Join(workspace, config.Paths.OutputDir), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Cannot create output directory: %v\n", err)
		os.Exit(1)
	}

	// Write outputs
	if err := writeSARIF(workspace, scanResults, result); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to write SARIF: %v\n", err)
	}
	if err := writeJUnit(workspace, scanResults, result); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to write JUnit: %v\n", err)
	}

	certHash, verified, err := generateVerifyCertificate(workspace, result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to write certificate: %v\n", err)
	}
	if err := updateReportSignature(workspace, verified, certHash); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to update report signature: %v\n", err)
	}
	if result.Pass {
		if _, err := createBackupSnapshot(workspace); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: Failed to create backup snapshot: %v\n", err)
		}
	}

	auditEntry := support.AuditEntry{
		Mode:           "verify",
		ErrorCount:     result.ErrorCount,
		WarningCount:   result.WarningCount,
		PassCount:      result.PassCount,
		CertificateSHA: certHash,
	}
	if data, err := os.ReadFile(filepath.Join(workspace, config.Paths.OutputDir, "report.json")); err == nil {
		var rep report
		if err := json.Unmarshal(data, &rep); err == nil {
			auditEntry.ScanStatus = rep.Status
			auditEntry.RunID = rep.RunID
		}
	}
	_ = support.AppendAudit(workspace, auditEntry)

	// Print HUD
	printHUD(result)

	if !result.Pass {
		if shouldExit() {
			os.Exit(1)
		}
	}
}
