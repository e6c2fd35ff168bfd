package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBackupSnapshot_RoundTrip(t *testing.T) {
	root := testWorkspace(t)
	writeWorkspaceFile(t, root, ".sfcheck/results.json", `{"errors":[],"warnings":[],"passed":[]}`)
	writeWorkspaceFile(t, root, ".sfcheck/config.yml", "fail_on_error: true\n")

	id, err := createBackupSnapshot(root)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected snapshot id")
	}

	snapDir := filepath.Join(root, ".sfcheck", "backups", id)
	if _, err := os.Stat(filepath.Join(snapDir, ".sfcheck", "results.json")); err != nil {
		t.Fatalf("snapshot missing results.json: %v", err)
	}

	// Corrupt the live outputs, then restore
	writeWorkspaceFile(t, root, ".sfcheck/results.json", "garbage")
	if err := rollbackToSnapshot(id); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, ".sfcheck", "results.json"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "garbage") {
		t.Fatal("rollback should restore snapshot content")
	}
}

func TestRollback_LatestPicksNewest(t *testing.T) {
	root := testWorkspace(t)
	// Fabricate two snapshots directly; the newer one has distinct content.
	writeWorkspaceFile(t, root, ".sfcheck/backups/20250101_000000/.sfcheck/results.json", `{"old":true}`)
	writeWorkspaceFile(t, root, ".sfcheck/backups/20250102_000000/.sfcheck/results.json", `{"new":true}`)

	if err := rollbackToSnapshot(""); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, ".sfcheck", "results.json"))
	if err != nil {
		t.Fatal(err)
	}
	assertContains(t, string(data), `"new"`)
}

func TestRollback_NoBackups(t *testing.T) {
	testWorkspace(t)
	if err := rollbackToSnapshot(""); err == nil {
		t.Fatal("expected error with no backups")
	}
}

func TestRollback_UnknownSnapshot(t *testing.T) {
	root := testWorkspace(t)
	writeWorkspaceFile(t, root, ".sfcheck/backups/20250101_000000/.sfcheck/results.json", "{}")
	if err := rollbackToSnapshot("19990101_000000"); err == nil {
		t.Fatal("expected error for unknown snapshot id")
	}
}

func TestRollback_WritesLog(t *testing.T) {
	root := testWorkspace(t)
	writeWorkspaceFile(t, root, ".sfcheck/backups/20250101_000000/.sfcheck/results.json", "{}")

	if err := rollbackToSnapshot("20250101_000000"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, ".sfcheck", "rollback.log"))
	if err != nil {
		t.Fatal(err)
	}
	assertContains(t, string(data), `"snapshotId":"20250101_000000"`)
	assertContains(t, string(data), `"result":"PASS"`)
}

func TestListBackupSnapshots_SortedAndEmpty(t *testing.T) {
	root := testWorkspace(t)
	if ids := listBackupSnapshots(root); len(ids) != 0 {
		t.Fatalf("expected no snapshots, got %v", ids)
	}

	for _, id := range []string{"20250102_000000", "20250101_000000"} {
		if err := os.MkdirAll(filepath.Join(root, ".sfcheck", "backups", id), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	ids := listBackupSnapshots(root)
	if len(ids) != 2 || ids[0] != "20250101_000000" || ids[1] != "20250102_000000" {
		t.Fatalf("expected sorted ids, got %v", ids)
	}
}
