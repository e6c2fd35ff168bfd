package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sfops/sfcheck/internal/support"
	"gopkg.in/yaml.v3"
)

type report struct {
	GeneratedAtUtc string       `json:"generatedAtUtc"`
	RunID          string       `json:"runId"`
	Status         string       `json:"status"`
	Rules          []ruleResult `json:"rules"`
}

type ruleResult struct {
	RuleID     string                 `json:"ruleId"`
	Severity   string                 `json:"severity,omitempty"`
	Status     string                 `json:"status"`
	Evidence   map[string]interface{} `json:"evidence,omitempty"`
	Violations []finding              `json:"violations,omitempty"`
	FixHint    string                 `json:"fixHint,omitempty"`
	Message    string                 `json:"message,omitempty"`
}

type finding struct {
	RuleID  string `json:"ruleId"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
	FixHint string `json:"fixHint"`
}

// runScan executes the rule engine, prints the findings, and exits nonzero
// when any rule produced an error. Warnings alone keep the exit code at zero.
func runScan() {
	rep := executeScan(config.Paths.WorkspaceRoot)
	printScanSummary(rep)
	if rep.Status == "FAIL" && shouldExit() {
		os.Exit(1)
	}
}

// executeScan runs the fixed, ordered rule list over the metadata tree and
// writes report.json, results.json, report.html, and apex-inventory.json.
// Rules are independent: a failing rule never short-circuits the next one.
func executeScan(workspace string) *report {
	outputDir := filepath.Join(workspace, config.Paths.OutputDir)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Cannot create output directory: %v\n", err)
		os.Exit(1)
	}

	rep := &report{
		GeneratedAtUtc: time.Now().UTC().Format(time.RFC3339),
		RunID:          uuid.NewString(),
	}

	files := collectSourceFiles(workspace)
	inv := buildApexInventory(files)

	// XML_WELL_FORMED
	xmlFindings := checkXMLWellFormed(files)
	rep.Rules = append(rep.Rules, makeRule("XML_WELL_FORMED", statusFromBool(len(xmlFindings) == 0), "high",
		nil, xmlFindings, "Repair the XML descriptor so it parses."))

	// API_VERSION_FLOOR
	apiFindings, apiEvidence := checkAPIVersionFloor(files)
	rep.Rules = append(rep.Rules, makeRule("API_VERSION_FLOOR", enforcementStatus(len(apiFindings) == 0, config.Scan.APIVersionEnforcement), "medium",
		apiEvidence, apiFindings, fmt.Sprintf("Raise apiVersion to at least %.1f.", config.Scan.APIVersionFloor)))

	// DEPRECATED_COMPONENTS
	depFindings, depEvidence := checkDeprecatedComponents(files)
	rep.Rules = append(rep.Rules, makeRule("DEPRECATED_COMPONENTS", enforcementStatus(len(depFindings) == 0, config.Scan.DeprecatedEnforcement), "medium",
		depEvidence, depFindings, "Migrate workflow rules and s-controls to Flow or Apex."))

	// NAMING_CONVENTION
	nameFindings := checkNamingConventions(inv)
	rep.Rules = append(rep.Rules, makeRule("NAMING_CONVENTION", enforcementStatus(len(nameFindings) == 0, config.Scan.NamingEnforcement), "medium",
		nil, nameFindings, "Rename the component to match the project naming conventions."))

	// HARDCODED_ID
	idFindings := checkHardcodedIDs(files)
	rep.Rules = append(rep.Rules, makeRule("HARDCODED_ID", statusFromBool(len(idFindings) == 0), "high",
		nil, idFindings, "Replace hardcoded record IDs with Custom Settings, Custom Metadata, or queries."))

	// HARDCODED_URL
	urlFindings := checkHardcodedURLs(files)
	rep.Rules = append(rep.Rules, makeRule("HARDCODED_URL", statusFromBool(len(urlFindings) == 0), "high",
		nil, urlFindings, "Use URL.getOrgDomainUrl() or Named Credentials instead of instance URLs."))

	// META_FILE_PRESENCE
	metaFindings := checkMetaFilePresence(files)
	rep.Rules = append(rep.Rules, makeRule("META_FILE_PRESENCE", statusFromBool(len(metaFindings) == 0), "high",
		nil, metaFindings, "Add the missing -meta.xml descriptor or remove the orphan file."))

	// TEST_CLASS_RATIO
	ratioFindings, ratioEvidence := checkTestRatio(inv)
	rep.Rules = append(rep.Rules, makeRule("TEST_CLASS_RATIO", enforcementStatus(len(ratioFindings) == 0, config.Scan.TestRatioEnforcement), "medium",
		ratioEvidence, ratioFindings, "Add test classes until the ratio clears the configured floor."))

	// MANIFEST_VALID
	manifestFindings, manifestEvidence := checkManifest(workspace)
	rep.Rules = append(rep.Rules, makeRule("MANIFEST_VALID", statusFromBool(len(manifestFindings) == 0), "high",
		manifestEvidence, manifestFindings, "Ensure package.xml exists, parses, and declares version and typed members."))

	// DML_IN_LOOP / SOQL_IN_LOOP
	dmlFindings, soqlFindings := checkLoopStatements(files)
	rep.Rules = append(rep.Rules, makeRule("DML_IN_LOOP", statusFromBool(len(dmlFindings) == 0), "high",
		nil, dmlFindings, "Collect records in the loop and run one DML statement after it."))
	rep.Rules = append(rep.Rules, makeRule("SOQL_IN_LOOP", statusFromBool(len(soqlFindings) == 0), "high",
		nil, soqlFindings, "Query once before the loop and look records up from a Map."))

	// ROLLBACK_READY
	backupIDs := listBackupSnapshots(workspace)
	latestBackup := ""
	if len(backupIDs) > 0 {
		latestBackup = backupIDs[len(backupIDs)-1]
	}
	rep.Rules = append(rep.Rules, makeRule("ROLLBACK_READY", "PASS", "low", map[string]interface{}{
		"backupCount":  len(backupIDs),
		"latestBackup": latestBackup,
	}, nil, "Run a passing verify to create a rollback snapshot."))

	rep.Status = summaryStatus(rep.Rules)

	writeJSON(filepath.Join(outputDir, "report.json"), rep)
	writeJSON(filepath.Join(outputDir, "results.json"), buildScanResults(rep))
	writeJSON(filepath.Join(outputDir, "apex-inventory.json"), inv)
	writeReportHTML(workspace)

	results := buildScanResults(rep)
	_ = support.AppendAudit(workspace, support.AuditEntry{
		Mode:         "scan",
		RunID:        rep.RunID,
		ErrorCount:   len(results.Errors),
		WarningCount: len(results.Warnings),
		PassCount:    len(results.Passed),
		ScanStatus:   rep.Status,
	})

	return rep
}

func printScanSummary(rep *report) {
	results := buildScanResults(rep)
	for _, v := range results.Errors {
		printViolation("ERROR", v)
	}
	for _, v := range results.Warnings {
		printViolation("WARNING", v)
	}
	fmt.Printf("Scan status: %s (errors=%d warnings=%d passed=%d)\n",
		rep.Status, len(results.Errors), len(results.Warnings), len(results.Passed))
}

func printViolation(level string, v Violation) {
	loc := v.File
	if v.Line > 0 {
		loc = fmt.Sprintf("%s:%d", v.File, v.Line)
	}
	if loc == "" {
		fmt.Printf("%s %s: %s\n", level, v.Rule, v.Message)
		return
	}
	fmt.Printf("%s %s %s: %s\n", level, v.Rule, loc, v.Message)
}

// summaryStatus rolls rule statuses up to the aggregate scan verdict.
func summaryStatus(rules []ruleResult) string {
	status := "PASS"
	for _, r := range rules {
		if r.Status == "FAIL" {
			return "FAIL"
		}
		if r.Status == "WARN" {
			status = "WARN"
		}
	}
	return status
}

func writeJSON(path string, v interface{}) {
	if err := support.WriteJSONAtomic(path, v); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: cannot write %s: %v\n", path, err)
	}
}

// buildScanResults buckets every rule outcome for the verify gate.
func buildScanResults(rep *report) *ScanResults {
	results := &ScanResults{
		Errors:   []Violation{},
		Warnings: []Violation{},
		Passed:   []Violation{},
	}
	for _, r := range rep.Rules {
		status := strings.ToUpper(r.Status)
		var target *[]Violation
		switch status {
		case "FAIL":
			target = &results.Errors
		case "WARN":
			target = &results.Warnings
		case "PASS":
			target = &results.Passed
		default:
			continue
		}
		if len(r.Violations) > 0 {
			for _, v := range r.Violations {
				*target = append(*target, Violation{
					Rule:    r.RuleID,
					Message: v.Message,
					File:    v.File,
					Line:    v.Line,
				})
			}
			continue
		}
		if status == "FAIL" || status == "WARN" {
			msg := r.Message
			if msg == "" {
				msg = r.FixHint
			}
			if msg == "" {
				msg = "Rule reported without violation details"
			}
			*target = append(*target, Violation{
				Rule:    r.RuleID,
				Message: msg,
			})
			continue
		}
		*target = append(*target, Violation{Rule: r.RuleID, Message: "ok"})
	}
	return results
}

func makeRule(ruleID, status, severity string, evidence map[string]interface{}, violations []finding, fixHint string) ruleResult {
	if fixHint == "" {
		fixHint = "Review rule documentation and apply the required fixes."
	}
	for i := range violations {
		if violations[i].RuleID == "" {
			violations[i].RuleID = ruleID
		}
		if violations[i].File == "" {
			violations[i].File = "unknown"
		}
		if violations[i].Line <= 0 {
			violations[i].Line = 1
		}
		if violations[i].Message == "" {
			violations[i].Message = "violation"
		}
		violations[i].FixHint = fixHint
	}
	return ruleResult{
		RuleID:     ruleID,
		Status:     status,
		Severity:   severity,
		Evidence:   evidence,
		Violations: violations,
		FixHint:    fixHint,
	}
}

func upsertRule(rules []ruleResult, next ruleResult) []ruleResult {
	for i, r := range rules {
		if r.RuleID == next.RuleID {
			rules[i] = next
			return rules
		}
	}
	return append(rules, next)
}

func statusFromBool(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

// enforcementStatus maps a clean/dirty rule outcome through the configured
// enforcement level ("warn" demotes a violation to WARN, "fail" keeps FAIL).
func enforcementStatus(ok bool, enforcement string) string {
	if ok {
		return "PASS"
	}
	if strings.ToLower(enforcement) == "warn" {
		return "WARN"
	}
	return "FAIL"
}

func fileExists(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	return false
}

// loadScanOverrides merges project-level scan keys from .sfcheck/config.yml
// into the effective config. Unknown keys are ignored so the file can carry
// gating keys for verify alongside scan tuning.
func loadScanOverrides(workspace string) {
	path := filepath.Join(workspace, config.Paths.OutputDir, "config.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(support.StripBOM(data), &raw); err != nil {
		return
	}
	setStringSlice := func(key string, target *[]string) {
		if v, ok := raw[key]; ok {
			*target = toStringSlice(v)
		}
	}
	setString := func(key string, target *string) {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok {
				*target = s
			}
		}
	}
	setFloat := func(key string, target *float64) {
		if v, ok := raw[key]; ok {
			switch n := v.(type) {
			case float64:
				*target = n
			case int:
				*target = float64(n)
			}
		}
	}
	setInt := func(key string, target *int) {
		if v, ok := raw[key]; ok {
			switch n := v.(type) {
			case int:
				*target = n
			case int64:
				*target = int(n)
			}
		}
	}

	setStringSlice("source_dirs", &config.Scan.SourceDirs)
	setStringSlice("exclude_dirs", &config.Scan.ExcludeDirs)
	setStringSlice("manifest_paths", &config.Scan.ManifestPaths)
	setFloat("api_version_floor", &config.Scan.APIVersionFloor)
	setString("class_name_pattern", &config.Scan.ClassNamePattern)
	setString("trigger_name_suffix", &config.Scan.TriggerNameSuffix)
	setString("test_class_suffix", &config.Scan.TestClassSuffix)
	setFloat("test_ratio_floor", &config.Scan.TestRatioFloor)
	setStringSlice("id_prefixes", &config.Scan.IDPrefixes)
	setStringSlice("hardcoded_url_patterns", &config.Scan.HardcodedURLPatterns)
	setStringSlice("deprecated_extensions", &config.Scan.DeprecatedExtensions)
	setString("deprecated_flow_type", &config.Scan.DeprecatedFlowType)
	setString("naming_enforcement", &config.Scan.NamingEnforcement)
	setString("deprecated_enforcement", &config.Scan.DeprecatedEnforcement)
	setString("test_ratio_enforcement", &config.Scan.TestRatioEnforcement)
	setString("api_version_enforcement", &config.Scan.APIVersionEnforcement)
	setStringSlice("protected_paths", &config.Scan.ProtectedPaths)
	setString("semantic_lock_marker", &config.Scan.SemanticLockMarker)
	setInt("history_max_snapshots", &config.Scan.HistoryMaxSnapshots)
	setInt("history_keep_days", &config.Scan.HistoryKeepDays)
	setString("meta_template_api_version", &config.Scan.MetaTemplateAPIVersion)

	if config.Scan.TestRatioFloor > 1.0 {
		fmt.Fprintf(os.Stderr, "WARNING: test_ratio_floor capped at 1.0\n")
		config.Scan.TestRatioFloor = 1.0
	}
}

func toStringSlice(v interface{}) []string {
	out := []string{}
	switch vv := v.(type) {
	case []interface{}:
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = vv
	case string:
		out = []string{vv}
	}
	return out
}
