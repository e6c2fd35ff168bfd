package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sfops/sfcheck/internal/support"
)

// triggerAnalysis is the deep-dive report for a single Apex trigger. It goes
// beyond the scan rules: it scores complexity and recommends a refactoring
// approach for moving trigger logic into handler classes.
type triggerAnalysis struct {
	GeneratedAtUtc  string      `json:"generatedAtUtc"`
	Trigger         string      `json:"trigger"`
	File            string      `json:"file"`
	ComplexityScore int         `json:"complexityScore"`
	Recommendation  string      `json:"recommendation"`
	DMLInLoops      []loopHit   `json:"dmlInLoops"`
	SOQLInLoops     []loopHit   `json:"soqlInLoops"`
	Bulkification   []bulkIssue `json:"bulkification"`
	ContextChecks   int         `json:"contextChecks"`
	LinesOfCode     int         `json:"linesOfCode"`
}

type bulkIssue struct {
	Message       string `json:"message"`
	AffectedLines []int  `json:"affectedLines"`
}

var reTriggerContext = regexp.MustCompile(`Trigger\.(isBefore|isAfter)`)

// analyzeTriggerBody scores a trigger source body. The complexity scale runs
// 1-10: each DML or SOQL inside a loop adds 2, each bulkification issue adds
// 1, each Trigger.isBefore/isAfter context check adds 1, and size adds up to
// 3 more (one point per 10 non-blank lines).
func analyzeTriggerBody(name, file, body string) *triggerAnalysis {
	lines := strings.Split(body, "\n")
	dmlHits, soqlHits := scanLoopStatements(lines)

	issues := []bulkIssue{}
	if len(dmlHits) > 0 {
		issues = append(issues, bulkIssue{
			Message:       "DML operations should be collected and executed outside loops",
			AffectedLines: hitLines(dmlHits),
		})
	}
	if len(soqlHits) > 0 {
		issues = append(issues, bulkIssue{
			Message:       "SOQL queries should be moved outside loops or use Maps for lookups",
			AffectedLines: hitLines(soqlHits),
		})
	}

	contexts := len(reTriggerContext.FindAllString(body, -1))

	loc := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			loc++
		}
	}

	score := 1
	score += len(dmlHits) * 2
	score += len(soqlHits) * 2
	score += len(issues)
	score += contexts
	size := loc / 10
	if size > 3 {
		size = 3
	}
	score += size
	if score > 10 {
		score = 10
	}

	return &triggerAnalysis{
		GeneratedAtUtc:  time.Now().UTC().Format(time.RFC3339),
		Trigger:         name,
		File:            file,
		ComplexityScore: score,
		Recommendation:  recommendApproach(score),
		DMLInLoops:      dmlHits,
		SOQLInLoops:     soqlHits,
		Bulkification:   issues,
		ContextChecks:   contexts,
		LinesOfCode:     loc,
	}
}

func recommendApproach(score int) string {
	switch {
	case score <= 3:
		return "Simple handler class with separate methods for each trigger context"
	case score <= 6:
		return "Handler class with bulkified collections and helper methods"
	default:
		return "Unified handler framework with separate concern classes (validation, DML, etc.)"
	}
}

func hitLines(hits []loopHit) []int {
	lines := make([]int, 0, len(hits))
	for _, h := range hits {
		lines = append(lines, h.Line)
	}
	return lines
}

// findTriggerFile resolves a trigger name to its .trigger source under the
// configured source directories. A path argument is used as-is.
func findTriggerFile(workspace, name string) (string, error) {
	if strings.HasSuffix(name, ".trigger") {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(workspace, path)
		}
		if fileExists(path) {
			return path, nil
		}
		return "", fmt.Errorf("trigger file not found: %s", name)
	}
	want := name + ".trigger"
	for _, f := range collectSourceFiles(workspace) {
		if filepath.Base(f.Rel) == want {
			return f.Path, nil
		}
	}
	return "", fmt.Errorf("trigger not found: %s", name)
}

func runAnalyzeTrigger(name string) {
	workspace := config.Paths.WorkspaceRoot
	path, err := findTriggerFile(workspace, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: cannot read trigger: %v\n", err)
		os.Exit(1)
	}

	triggerName := strings.TrimSuffix(filepath.Base(path), ".trigger")
	analysis := analyzeTriggerBody(triggerName, path, string(support.StripBOM(data)))

	outputDir := filepath.Join(workspace, config.Paths.OutputDir)
	if err := os.MkdirAll(outputDir, 0o755); err == nil {
		_ = support.WriteJSONAtomic(filepath.Join(outputDir, "trigger-analysis.json"), analysis)
	}
	_ = support.AppendAudit(workspace, support.AuditEntry{Mode: "analyze-trigger", Result: "PASS"})

	printTriggerReport(analysis)
}

func printTriggerReport(a *triggerAnalysis) {
	bar := strings.Repeat("=", 70)
	fmt.Println()
	fmt.Println(bar)
	fmt.Printf("TRIGGER ANALYSIS REPORT: %s\n", a.Trigger)
	fmt.Println(bar)
	fmt.Println()

	fmt.Printf("Complexity Score: %d/10\n", a.ComplexityScore)
	fmt.Printf("Recommended Approach: %s\n\n", a.Recommendation)

	if len(a.DMLInLoops) > 0 {
		fmt.Println("[WARN] DML OPERATIONS IN LOOPS:")
		for _, h := range a.DMLInLoops {
			fmt.Printf("   Line %d: %s\n", h.Line, h.Code)
			fmt.Printf("      loop started at line %d\n", h.LoopStart)
		}
		fmt.Println()
	} else {
		fmt.Println("[OK] No DML operations found in loops")
		fmt.Println()
	}

	if len(a.SOQLInLoops) > 0 {
		fmt.Println("[WARN] SOQL QUERIES IN LOOPS:")
		for _, h := range a.SOQLInLoops {
			fmt.Printf("   Line %d: %s\n", h.Line, h.Code)
			fmt.Printf("      loop started at line %d\n", h.LoopStart)
		}
		fmt.Println()
	} else {
		fmt.Println("[OK] No SOQL queries found in loops")
		fmt.Println()
	}

	if len(a.Bulkification) > 0 {
		fmt.Println("[WARN] BULKIFICATION RECOMMENDATIONS:")
		for _, issue := range a.Bulkification {
			fmt.Printf("   * %s\n", issue.Message)
			fmt.Printf("     affected lines: %s\n", joinInts(issue.AffectedLines))
		}
		fmt.Println()
	} else {
		fmt.Println("[OK] Bulkification patterns look good")
		fmt.Println()
	}

	fmt.Println(bar)
	fmt.Println("NEXT STEPS:")
	fmt.Println("1. Create a handler class with bulk-safe collections")
	fmt.Println("2. Extract trigger logic into handler methods")
	fmt.Println("3. Add tests covering bulk inserts and updates")
	fmt.Println(bar)
	fmt.Println()
}

func joinInts(values []int) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%d", v))
	}
	return strings.Join(parts, ", ")
}
