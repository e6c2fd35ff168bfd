package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sfops/sfcheck/internal/support"
)

type fixAction struct {
	File    string `json:"file"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type fixPlan struct {
	DryRun  bool        `json:"dryRun"`
	Actions []fixAction `json:"actions"`
}

type fixApply struct {
	DryRun  bool        `json:"dryRun"`
	Applied []fixAction `json:"applied"`
	Result  string      `json:"result"`
}

type semanticBlockError struct {
	File   string
	Reason string
}

func (e semanticBlockError) Error() string {
	return fmt.Sprintf("semantic change blocked: %s (%s)", e.File, e.Reason)
}

func runFix(dryRun bool) {
	if err := runFixInternal(dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func runFixInternal(dryRun bool) error {
	workspace := config.Paths.WorkspaceRoot
	plan, err := buildFixPlan(workspace)
	if err != nil {
		return err
	}
	plan.DryRun = dryRun

	outputDir := filepath.Join(workspace, config.Paths.OutputDir)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	planPath := filepath.Join(outputDir, "fix-plan.json")
	_ = support.WriteJSONAtomic(planPath, plan)
	_ = support.WriteFileAtomic(filepath.Join(outputDir, "fix.patch"), []byte(renderPatch(plan)))

	if dryRun {
		updateFixReport(workspace, plan, dryRun, nil)
		_ = support.AppendAudit(workspace, support.AuditEntry{Mode: "fix", Actions: len(plan.Actions), Result: "DRY_RUN", DryRun: true})
		return nil
	}

	err = applyFixPlan(workspace, plan)
	updateFixReport(workspace, plan, dryRun, err)
	if err != nil {
		_ = support.AppendAudit(workspace, support.AuditEntry{Mode: "fix", Actions: len(plan.Actions), Result: "FAIL", DryRun: false})
		return err
	}

	_ = support.AppendAudit(workspace, support.AuditEntry{Mode: "fix", Actions: len(plan.Actions), Result: "PASS", DryRun: false})
	return nil
}

// buildFixPlan derives mechanical fixes from the current rule findings:
// missing -meta.xml descriptors get generated, descriptors below the API
// version floor get bumped. Anything else stays a manual fix.
func buildFixPlan(workspace string) (*fixPlan, error) {
	actions := []fixAction{}

	files := collectSourceFiles(workspace)

	for _, v := range checkMetaFilePresence(files) {
		if strings.Contains(v.Message, "-meta.xml descriptor") {
			actions = append(actions, fixAction{File: v.File + "-meta.xml", Kind: "create_meta_xml", Message: "generate missing -meta.xml descriptor"})
		}
	}

	apiFindings, _ := checkAPIVersionFloor(files)
	for _, v := range apiFindings {
		if !strings.Contains(v.Message, "below floor") {
			continue
		}
		actions = append(actions, fixAction{File: v.File, Kind: "bump_api_version", Message: fmt.Sprintf("raise apiVersion to %.1f", config.Scan.APIVersionFloor)})
	}

	return &fixPlan{Actions: uniqueFixActions(actions)}, nil
}

func applyFixPlan(workspace string, plan *fixPlan) error {
	for _, action := range plan.Actions {
		if isProtectedPath(action.File) {
			return semanticBlockError{File: action.File, Reason: "protected path"}
		}
		if fileHasSemanticLock(filepath.Join(workspace, action.File)) {
			return semanticBlockError{File: action.File, Reason: "semantic lock"}
		}
		if err := applyFixAction(workspace, action); err != nil {
			return err
		}
	}
	applyPath := filepath.Join(workspace, config.Paths.OutputDir, "fix-apply.json")
	return support.WriteJSONAtomic(applyPath, fixApply{DryRun: false, Applied: plan.Actions, Result: "PASS"})
}

var reAPIVersionElement = regexp.MustCompile(`<apiVersion>\s*[0-9.]+\s*</apiVersion>`)

func applyFixAction(workspace string, action fixAction) error {
	path := filepath.Join(workspace, action.File)

	switch action.Kind {
	case "create_meta_xml":
		if fileExists(path) {
			return nil
		}
		return support.WriteFileAtomic(path, []byte(metaTemplate(action.File)))
	case "bump_api_version":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		original := string(data)
		replacement := fmt.Sprintf("<apiVersion>%.1f</apiVersion>", config.Scan.APIVersionFloor)
		updated := reAPIVersionElement.ReplaceAllString(original, replacement)
		if !validateStructuralChange(original, updated) {
			return semanticBlockError{File: action.File, Reason: "non-structural change detected"}
		}
		return support.WriteFileAtomic(path, []byte(updated))
	default:
		return fmt.Errorf("unknown fix action: %s", action.Kind)
	}
}

// metaTemplate returns a minimal descriptor for the component type implied by
// the meta file name (.cls-meta.xml or .trigger-meta.xml).
func metaTemplate(metaFile string) string {
	kind := "ApexClass"
	if strings.HasSuffix(metaFile, ".trigger-meta.xml") {
		kind = "ApexTrigger"
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<%s xmlns="http://soap.sforce.com/2006/04/metadata">
    <apiVersion>%s</apiVersion>
    <status>Active</status>
</%s>
`, kind, config.Scan.MetaTemplateAPIVersion, kind)
}

// validateStructuralChange accepts an update only when exactly the apiVersion
// line changed. Any other drift means the rewrite touched semantics.
func validateStructuralChange(original, updated string) bool {
	oldLines := strings.Split(normalizeNewlines(original), "\n")
	newLines := strings.Split(normalizeNewlines(updated), "\n")
	if len(oldLines) != len(newLines) {
		return false
	}
	changed := 0
	for i := range oldLines {
		if oldLines[i] == newLines[i] {
			continue
		}
		if !strings.Contains(newLines[i], "<apiVersion>") {
			return false
		}
		changed++
	}
	return changed == 1
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func uniqueFixActions(actions []fixAction) []fixAction {
	seen := map[string]struct{}{}
	out := []fixAction{}
	for _, a := range actions {
		key := a.File + "|" + a.Kind
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

func isProtectedPath(path string) bool {
	for _, p := range config.Scan.ProtectedPaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func fileHasSemanticLock(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), config.Scan.SemanticLockMarker)
}

func renderPatch(plan *fixPlan) string {
	var b strings.Builder
	for _, a := range plan.Actions {
		b.WriteString("PATCH ")
		b.WriteString(a.File)
		b.WriteString(" ")
		b.WriteString(a.Kind)
		b.WriteString("\n")
	}
	return b.String()
}

func updateFixReport(workspace string, plan *fixPlan, dryRun bool, applyErr error) {
	reportPath := filepath.Join(workspace, config.Paths.OutputDir, "report.json")
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return
	}
	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return
	}

	rep.Rules = upsertRule(rep.Rules, makeRule("FIX_PLANNED", "PASS", "medium", map[string]interface{}{
		"actions": len(plan.Actions),
		"dryRun":  dryRun,
	}, nil, ""))

	statusGuard := "PASS"
	violations := []finding{}
	if applyErr != nil {
		statusGuard = "FAIL"
		if sb, ok := applyErr.(semanticBlockError); ok {
			violations = append(violations, finding{File: sb.File, Line: 1, Message: sb.Reason, RuleID: "FIX_STRUCTURAL_ONLY", FixHint: "Move changes out of protected zones or remove the lock marker."})
		} else {
			violations = append(violations, finding{File: "unknown", Line: 1, Message: applyErr.Error(), RuleID: "FIX_STRUCTURAL_ONLY", FixHint: "Review fix actions and ensure only structural changes."})
		}
	}
	rep.Rules = upsertRule(rep.Rules, makeRule("FIX_STRUCTURAL_ONLY", statusGuard, "high", nil, violations, "Ensure fix only applies structural changes."))

	planExists := fileExists(filepath.Join(workspace, config.Paths.OutputDir, "fix-plan.json"))
	patchExists := fileExists(filepath.Join(workspace, config.Paths.OutputDir, "fix.patch"))
	applyExists := fileExists(filepath.Join(workspace, config.Paths.OutputDir, "fix-apply.json"))

	statusOutputs := "PASS"
	if !planExists || !patchExists || (!dryRun && !applyExists) {
		statusOutputs = "FAIL"
	}
	rep.Rules = upsertRule(rep.Rules, makeRule("FIX_OUTPUTS", statusOutputs, "medium", map[string]interface{}{
		"fixPlan":  planExists,
		"fixPatch": patchExists,
		"fixApply": applyExists,
	}, nil, "Ensure fix produces plan/patch and apply outputs."))

	auditExists := fileExists(filepath.Join(workspace, config.Paths.OutputDir, "audit.log"))
	statusAudit := "PASS"
	if !auditExists {
		statusAudit = "FAIL"
	}
	rep.Rules = upsertRule(rep.Rules, makeRule("FIX_AUDITED", statusAudit, "low", map[string]interface{}{
		"auditLog": auditExists,
	}, nil, "Ensure fix runs append to the audit log."))

	rep.Status = summaryStatus(rep.Rules)
	_ = support.WriteJSONAtomic(reportPath, rep)
}
