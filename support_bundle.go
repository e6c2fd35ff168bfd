package main

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sfops/sfcheck/internal/support"
)

func runSupportBundle(repoRoot string) {
	if repoRoot == "" {
		repoRoot = config.Paths.WorkspaceRoot
	}
	out := config.Paths.OutputDir
	name := fmt.Sprintf("support-bundle_%s.zip", time.Now().UTC().Format("20060102_150405"))
	outPath := filepath.Join(repoRoot, out, name)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	tmpPath := fmt.Sprintf("%s.tmp.%d", outPath, os.Getpid())
	f, err := os.Create(tmpPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	zipw := zip.NewWriter(f)

	candidates := []string{
		filepath.Join(out, "report.json"),
		filepath.Join(out, "report.html"),
		filepath.Join(out, "results.json"),
		filepath.Join(out, "results.sarif"),
		filepath.Join(out, "junit.xml"),
		filepath.Join(out, "certificate.json"),
		filepath.Join(out, "audit.log"),
		filepath.Join(out, "doctor.json"),
		filepath.Join(out, "hints.json"),
		filepath.Join(out, "apex-inventory.json"),
		filepath.Join(out, "trigger-analysis.json"),
		filepath.Join(out, "fix-plan.json"),
		filepath.Join(out, "fix.patch"),
		filepath.Join(out, "fix-apply.json"),
		filepath.Join(out, "config.yml"),
	}

	for _, rel := range candidates {
		path := filepath.Join(repoRoot, rel)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := addFileToZip(zipw, path, rel); err != nil {
			_ = zipw.Close()
			_ = f.Close()
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
	}

	if err := zipw.Close(); err != nil {
		_ = f.Close()
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	_ = os.Remove(outPath)
	if err := os.Rename(tmpPath, outPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	updateSupportBundleReport(repoRoot, outPath)
	fmt.Printf("Support bundle written: %s\n", outPath)
}

func addFileToZip(zipw *zip.Writer, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	w, err := zipw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func updateSupportBundleReport(workspace, bundlePath string) {
	reportPath := filepath.Join(workspace, config.Paths.OutputDir, "report.json")
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return
	}
	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return
	}
	rep.Rules = upsertRule(rep.Rules, makeRule("SUPPORT_BUNDLE", "PASS", "low", map[string]interface{}{
		"bundlePath": bundlePath,
	}, nil, ""))
	rep.Status = summaryStatus(rep.Rules)
	_ = support.WriteJSONAtomic(reportPath, rep)
}
