package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// apexInventory splits the Apex surface of the workspace into the buckets the
// naming and coverage rules care about. TestClasses is a subset of Classes.
type apexInventory struct {
	Classes     []sourceFile `json:"classes"`
	TestClasses []sourceFile `json:"testClasses"`
	Triggers    []sourceFile `json:"triggers"`
}

var reIsTest = regexp.MustCompile(`(?i)@isTest\b`)

func buildApexInventory(files []sourceFile) *apexInventory {
	inv := &apexInventory{}
	for _, f := range files {
		switch filepath.Ext(f.Rel) {
		case ".cls":
			inv.Classes = append(inv.Classes, f)
			if isTestClass(f) {
				inv.TestClasses = append(inv.TestClasses, f)
			}
		case ".trigger":
			inv.Triggers = append(inv.Triggers, f)
		}
	}
	return inv
}

func isTestClass(f sourceFile) bool {
	name := strings.TrimSuffix(filepath.Base(f.Rel), ".cls")
	if strings.HasSuffix(name, config.Scan.TestClassSuffix) {
		return true
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return false
	}
	return reIsTest.Match(data)
}

// ---------------------------------------------------------------------------
// Naming conventions
// ---------------------------------------------------------------------------

func checkNamingConventions(inv *apexInventory) []finding {
	results := []finding{}
	rePattern, err := regexp.Compile(config.Scan.ClassNamePattern)
	if err != nil {
		return []finding{{Message: fmt.Sprintf("invalid class_name_pattern: %v", err)}}
	}
	for _, f := range inv.Classes {
		name := strings.TrimSuffix(filepath.Base(f.Rel), ".cls")
		if !rePattern.MatchString(name) {
			results = append(results, finding{
				File:    f.Rel,
				Message: fmt.Sprintf("class name %q does not match %s", name, config.Scan.ClassNamePattern),
			})
		}
	}
	for _, f := range inv.Triggers {
		name := strings.TrimSuffix(filepath.Base(f.Rel), ".trigger")
		if !strings.HasSuffix(name, config.Scan.TriggerNameSuffix) {
			results = append(results, finding{
				File:    f.Rel,
				Message: fmt.Sprintf("trigger name %q should end with %q", name, config.Scan.TriggerNameSuffix),
			})
		}
	}
	for _, f := range inv.TestClasses {
		name := strings.TrimSuffix(filepath.Base(f.Rel), ".cls")
		if !strings.HasSuffix(name, config.Scan.TestClassSuffix) {
			results = append(results, finding{
				File:    f.Rel,
				Message: fmt.Sprintf("test class %q should end with %q", name, config.Scan.TestClassSuffix),
			})
		}
	}
	return results
}

// ---------------------------------------------------------------------------
// Hardcoded record IDs and instance URLs
// ---------------------------------------------------------------------------

// Salesforce record IDs are 15 or 18 alphanumerics inside a string literal.
// The first three characters are the object key prefix.
var reQuotedID = regexp.MustCompile(`'([a-zA-Z0-9]{18}|[a-zA-Z0-9]{15})'`)

func checkHardcodedIDs(files []sourceFile) []finding {
	prefixes := map[string]struct{}{}
	for _, p := range config.Scan.IDPrefixes {
		prefixes[p] = struct{}{}
	}
	results := []finding{}
	for _, f := range files {
		if !isApexSource(f.Rel) {
			continue
		}
		forEachLine(f, func(i int, line string) {
			if isApexComment(line) {
				return
			}
			for _, m := range reQuotedID.FindAllStringSubmatch(line, -1) {
				id := m[1]
				if _, ok := prefixes[id[:3]]; !ok {
					continue
				}
				results = append(results, finding{
					File:    f.Rel,
					Line:    i,
					Message: fmt.Sprintf("hardcoded record ID '%s' (prefix %s)", id, id[:3]),
				})
			}
		})
	}
	return results
}

func checkHardcodedURLs(files []sourceFile) []finding {
	results := []finding{}
	for _, f := range files {
		if !isApexSource(f.Rel) {
			continue
		}
		forEachLine(f, func(i int, line string) {
			if isApexComment(line) {
				return
			}
			lower := strings.ToLower(line)
			for _, pattern := range config.Scan.HardcodedURLPatterns {
				if strings.Contains(lower, strings.ToLower(pattern)) {
					results = append(results, finding{
						File:    f.Rel,
						Line:    i,
						Message: fmt.Sprintf("hardcoded instance URL (%s)", pattern),
					})
					break
				}
			}
		})
	}
	return results
}

func isApexSource(rel string) bool {
	switch filepath.Ext(rel) {
	case ".cls", ".trigger":
		return true
	default:
		return false
	}
}

func isApexComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/*")
}

func forEachLine(f sourceFile, fn func(lineNo int, line string)) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return
	}
	for i, line := range strings.Split(string(data), "\n") {
		fn(i+1, line)
	}
}

// ---------------------------------------------------------------------------
// Test class ratio
// ---------------------------------------------------------------------------

func checkTestRatio(inv *apexInventory) ([]finding, map[string]interface{}) {
	nonTest := len(inv.Classes) - len(inv.TestClasses)
	ratio := 1.0
	if nonTest > 0 {
		ratio = float64(len(inv.TestClasses)) / float64(nonTest)
	}
	evidence := map[string]interface{}{
		"nonTestClassCount": nonTest,
		"testClassCount":    len(inv.TestClasses),
		"testRatio":         ratio,
		"testRatioFloor":    config.Scan.TestRatioFloor,
	}
	if nonTest == 0 {
		return nil, evidence
	}
	if ratio < config.Scan.TestRatioFloor {
		return []finding{{
			Message: fmt.Sprintf("test class ratio %.2f below floor %.2f (%d test classes for %d classes)",
				ratio, config.Scan.TestRatioFloor, len(inv.TestClasses), nonTest),
		}}, evidence
	}
	return nil, evidence
}

// ---------------------------------------------------------------------------
// DML / SOQL inside loops
// ---------------------------------------------------------------------------

// loopHit is a statement flagged inside a for/while body.
type loopHit struct {
	Line      int    `json:"line"`
	Code      string `json:"code"`
	LoopStart int    `json:"loopStart"`
}

var (
	reLoopStart = regexp.MustCompile(`\b(for|while)\s*\(`)
	reDML       = regexp.MustCompile(`(?i)\b(insert|update|delete|undelete|upsert)\s+\w|Database\.(insert|update|delete|undelete|upsert)\s*\(`)
	reSOQL      = regexp.MustCompile(`(?i)\[\s*SELECT\s`)
)

type loopFrame struct {
	startLine int
	depth     int
}

// scanLoopStatements walks Apex source line by line tracking brace depth and
// reports DML statements and inline SOQL queries that execute inside a loop
// body. The header frame is pushed before the line is checked, so DML on a
// braceless single-line loop (`for (Account a : accs) insert a;`) is still
// caught. The SOQL check skips the loop header itself so that SOQL-for loops
// (`for (X x : [SELECT ...])`), which are governor-safe, are not flagged.
func scanLoopStatements(lines []string) (dml []loopHit, soql []loopHit) {
	depth := 0
	stack := []loopFrame{}
	for i, line := range lines {
		lineNo := i + 1
		if isApexComment(line) {
			continue
		}
		isLoopHeader := reLoopStart.MatchString(line)
		if isLoopHeader {
			stack = append(stack, loopFrame{startLine: lineNo, depth: depth})
		}

		if len(stack) > 0 {
			if reDML.MatchString(line) {
				dml = append(dml, loopHit{Line: lineNo, Code: strings.TrimSpace(line), LoopStart: stack[0].startLine})
			}
			if !isLoopHeader && reSOQL.MatchString(line) {
				soql = append(soql, loopHit{Line: lineNo, Code: strings.TrimSpace(line), LoopStart: stack[0].startLine})
			}
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		for len(stack) > 0 && depth <= stack[len(stack)-1].depth {
			stack = stack[:len(stack)-1]
		}
	}
	return dml, soql
}

func checkLoopStatements(files []sourceFile) (dmlFindings, soqlFindings []finding) {
	for _, f := range files {
		if !hasLoopScanExtension(f.Rel) {
			continue
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			continue
		}
		dml, soql := scanLoopStatements(strings.Split(string(data), "\n"))
		for _, hit := range dml {
			dmlFindings = append(dmlFindings, finding{
				File:    f.Rel,
				Line:    hit.Line,
				Message: fmt.Sprintf("DML inside loop started at line %d: %s", hit.LoopStart, hit.Code),
			})
		}
		for _, hit := range soql {
			soqlFindings = append(soqlFindings, finding{
				File:    f.Rel,
				Line:    hit.Line,
				Message: fmt.Sprintf("SOQL inside loop started at line %d: %s", hit.LoopStart, hit.Code),
			})
		}
	}
	return dmlFindings, soqlFindings
}

func hasLoopScanExtension(rel string) bool {
	for _, ext := range config.Scan.TriggerLoopScanExtensions {
		if strings.HasSuffix(rel, ext) {
			return true
		}
	}
	return false
}
