package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sfops/sfcheck/internal/support"
)

type rollbackEntry struct {
	TimestampUtc string `json:"timestampUtc"`
	SnapshotID   string `json:"snapshotId"`
	Result       string `json:"result"`
	Message      string `json:"message,omitempty"`
}

// snapshotFiles lists the output artifacts captured by every backup snapshot.
func snapshotFiles() []string {
	out := config.Paths.OutputDir
	return []string{
		filepath.Join(out, "report.json"),
		filepath.Join(out, "report.html"),
		filepath.Join(out, "results.json"),
		filepath.Join(out, "certificate.json"),
		filepath.Join(out, "config.yml"),
		filepath.Join(out, "hints.json"),
		filepath.Join(out, "apex-inventory.json"),
	}
}

func createBackupSnapshot(workspace string) (string, error) {
	backupRoot := filepath.Join(workspace, config.Paths.OutputDir, "backups")
	if err := os.MkdirAll(backupRoot, 0o755); err != nil {
		return "", err
	}
	id := time.Now().UTC().Format("20060102_150405")
	snapshotDir := filepath.Join(backupRoot, id)
	if _, err := os.Stat(snapshotDir); err == nil {
		time.Sleep(1100 * time.Millisecond)
		id = time.Now().UTC().Format("20060102_150405")
		snapshotDir = filepath.Join(backupRoot, id)
	}
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return "", err
	}

	for _, rel := range snapshotFiles() {
		src := filepath.Join(workspace, rel)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(snapshotDir, rel)
		if err := support.CopyFileAtomic(src, dst); err != nil {
			return "", err
		}
	}

	updateRollbackReport(workspace, id, "", true)
	return id, nil
}

func listBackupSnapshots(workspace string) []string {
	backupRoot := filepath.Join(workspace, config.Paths.OutputDir, "backups")
	entries, err := os.ReadDir(backupRoot)
	if err != nil {
		return nil
	}
	ids := []string{}
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids
}

func runRollbackLatest() {
	if err := rollbackToSnapshot(""); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func runRollbackTo(id string) {
	if err := rollbackToSnapshot(id); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func rollbackToSnapshot(id string) error {
	workspace := config.Paths.WorkspaceRoot
	ids := listBackupSnapshots(workspace)
	if len(ids) == 0 {
		return fmt.Errorf("no backups available")
	}
	if id == "" {
		id = ids[len(ids)-1]
	}
	snapshotDir := filepath.Join(workspace, config.Paths.OutputDir, "backups", id)
	if _, err := os.Stat(snapshotDir); err != nil {
		return fmt.Errorf("snapshot not found: %s", id)
	}

	for _, rel := range snapshotFiles() {
		src := filepath.Join(snapshotDir, rel)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(workspace, rel)
		if err := support.CopyFileAtomic(src, dst); err != nil {
			return err
		}
	}

	_ = appendRollbackLog(workspace, rollbackEntry{SnapshotID: id, Result: "PASS"})
	updateRollbackReport(workspace, id, time.Now().UTC().Format(time.RFC3339), false)

	audit := support.AuditEntry{Mode: "rollback", Result: "PASS"}
	if data, err := os.ReadFile(filepath.Join(workspace, config.Paths.OutputDir, "report.json")); err == nil {
		var rep report
		if err := json.Unmarshal(data, &rep); err == nil {
			audit.ScanStatus = rep.Status
			audit.RunID = rep.RunID
		}
	}
	_ = support.AppendAudit(workspace, audit)
	return nil
}

func appendRollbackLog(workspace string, entry rollbackEntry) error {
	entry.TimestampUtc = time.Now().UTC().Format(time.RFC3339)
	path := filepath.Join(workspace, config.Paths.OutputDir, "rollback.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

func updateRollbackReport(workspace, snapshotID, rollbackAt string, refreshOnly bool) {
	reportPath := filepath.Join(workspace, config.Paths.OutputDir, "report.json")
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return
	}
	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return
	}

	backupIDs := listBackupSnapshots(workspace)
	latest := ""
	if len(backupIDs) > 0 {
		latest = backupIDs[len(backupIDs)-1]
	}
	status := "WARN"
	if len(backupIDs) > 0 {
		status = "PASS"
	}
	evidence := map[string]interface{}{
		"backupCount":  len(backupIDs),
		"latestBackup": latest,
	}
	if snapshotID != "" {
		evidence["rollbackSnapshotId"] = snapshotID
	}
	if rollbackAt != "" {
		evidence["lastRollbackAtUtc"] = rollbackAt
	}
	if refreshOnly {
		evidence["snapshotCreated"] = snapshotID
	}
	rep.Rules = upsertRule(rep.Rules, makeRule("ROLLBACK_READY", status, "high", evidence, nil, "Create a passing snapshot before attempting rollback."))
	rep.Status = summaryStatus(rep.Rules)
	_ = support.WriteJSONAtomic(reportPath, rep)
}
