package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sfops/sfcheck/internal/support"
)

type doctorReport struct {
	GeneratedAtUtc string        `json:"generatedAtUtc"`
	RepoRoot       string        `json:"repoRoot"`
	Project        doctorProject `json:"project"`
	Sources        doctorSources `json:"sources"`
	Outputs        doctorOutputs `json:"outputs"`
	Modes          doctorModes   `json:"modes"`
	Status         string        `json:"status"`
	Reasons        []string      `json:"reasons,omitempty"`
}

type doctorProject struct {
	SfdxProjectFound  bool     `json:"sfdxProjectFound"`
	SfdxProjectValid  bool     `json:"sfdxProjectValid"`
	PackageDirs       []string `json:"packageDirs,omitempty"`
	ManifestFound     bool     `json:"manifestFound"`
	ManifestPath      string   `json:"manifestPath,omitempty"`
	SourceAPIVersion  string   `json:"sourceApiVersion,omitempty"`
	GitAvailable      bool     `json:"gitAvailable"`
	SigningKeyPresent bool     `json:"signingKeyPresent"`
}

type doctorSources struct {
	SourceDirsFound   []string `json:"sourceDirsFound"`
	SourceDirsMissing []string `json:"sourceDirsMissing"`
	ApexClassCount    int      `json:"apexClassCount"`
	ApexTriggerCount  int      `json:"apexTriggerCount"`
}

type doctorOutputs struct {
	OutputDirWritable bool `json:"outputDirWritable"`
	AuditLogPresent   bool `json:"auditLogPresent"`
}

type doctorModes struct {
	VerifyAvailable bool `json:"verifyAvailable"`
	WatchAvailable  bool `json:"watchAvailable"`
	FixAvailable    bool `json:"fixAvailable"`
}

// sfdxProject mirrors the fields of sfdx-project.json the checks care about.
type sfdxProject struct {
	PackageDirectories []struct {
		Path    string `json:"path"`
		Default bool   `json:"default"`
	} `json:"packageDirectories"`
	SourceAPIVersion string `json:"sourceApiVersion"`
}

func buildDoctorReport() doctorReport {
	workspace := config.Paths.WorkspaceRoot

	proj, projFound, projValid := loadSfdxProject(workspace)
	packageDirs := []string{}
	apiVersion := ""
	if projValid {
		for _, d := range proj.PackageDirectories {
			packageDirs = append(packageDirs, d.Path)
		}
		apiVersion = proj.SourceAPIVersion
	}

	found := []string{}
	missing := []string{}
	for _, dir := range config.Scan.SourceDirs {
		if fileExists(filepath.Join(workspace, dir)) {
			found = append(found, dir)
		} else {
			missing = append(missing, dir)
		}
	}

	files := collectSourceFiles(workspace)
	inv := buildApexInventory(files)

	manifestPath := findManifest(workspace)

	outputDir := filepath.Join(workspace, config.Paths.OutputDir)
	writable := true
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		writable = false
	} else if probe, err := os.CreateTemp(outputDir, ".doctor-*"); err != nil {
		writable = false
	} else {
		probe.Close()
		os.Remove(probe.Name())
	}

	_, keyErr := support.LoadSigningKey(workspace)

	status := "OK"
	reasons := []string{}
	if !projValid {
		status = "DEGRADED"
		reasons = append(reasons, "sfdx-project.json missing or invalid")
	}
	if len(found) == 0 {
		status = "DEGRADED"
		reasons = append(reasons, "no configured source directory exists")
	}
	if manifestPath == "" {
		status = "DEGRADED"
		reasons = append(reasons, "package.xml manifest not found")
	}
	if !writable {
		status = "DEGRADED"
		reasons = append(reasons, "output directory not writable")
	}

	return doctorReport{
		GeneratedAtUtc: time.Now().UTC().Format(time.RFC3339),
		RepoRoot:       workspace,
		Project: doctorProject{
			SfdxProjectFound:  projFound,
			SfdxProjectValid:  projValid,
			PackageDirs:       packageDirs,
			ManifestFound:     manifestPath != "",
			ManifestPath:      manifestPath,
			SourceAPIVersion:  apiVersion,
			GitAvailable:      gitAvailable(workspace),
			SigningKeyPresent: keyErr == nil,
		},
		Sources: doctorSources{
			SourceDirsFound:   found,
			SourceDirsMissing: missing,
			ApexClassCount:    len(inv.Classes),
			ApexTriggerCount:  len(inv.Triggers),
		},
		Outputs: doctorOutputs{
			OutputDirWritable: writable,
			AuditLogPresent:   fileExists(filepath.Join(outputDir, "audit.log")),
		},
		Modes: doctorModes{
			VerifyAvailable: true,
			WatchAvailable:  true,
			FixAvailable:    true,
		},
		Status:  status,
		Reasons: reasons,
	}
}

func loadSfdxProject(workspace string) (*sfdxProject, bool, bool) {
	path := filepath.Join(workspace, "sfdx-project.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, false
	}
	var proj sfdxProject
	if err := json.Unmarshal(support.StripBOM(data), &proj); err != nil {
		return nil, true, false
	}
	if len(proj.PackageDirectories) == 0 {
		return &proj, true, false
	}
	return &proj, true, true
}

func gitAvailable(workspace string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = workspace
	return cmd.Run() == nil
}

func runDoctor() {
	docReport := buildDoctorReport()
	path := filepath.Join(config.Paths.WorkspaceRoot, config.Paths.OutputDir, "doctor.json")
	if err := support.WriteJSONAtomic(path, docReport); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: cannot write doctor.json: %v\n", err)
		os.Exit(1)
	}
	updateDoctorReport(config.Paths.WorkspaceRoot, docReport)
	fmt.Printf("Doctor status: %s\n", docReport.Status)
	for _, r := range docReport.Reasons {
		fmt.Printf("  - %s\n", r)
	}
	if docReport.Status != "OK" && shouldExit() {
		os.Exit(1)
	}
}

func updateDoctorReport(workspace string, docReport doctorReport) {
	reportPath := filepath.Join(workspace, config.Paths.OutputDir, "report.json")
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return
	}
	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return
	}

	status := "PASS"
	if docReport.Status != "OK" {
		status = "FAIL"
	}
	rep.Rules = upsertRule(rep.Rules, makeRule("DOCTOR_READY", status, "high", map[string]interface{}{
		"doctorStatus": docReport.Status,
		"reasons":      docReport.Reasons,
	}, nil, "Ensure doctor readiness checks pass."))

	rep.Status = summaryStatus(rep.Rules)
	_ = support.WriteJSONAtomic(reportPath, rep)
}
