package main

import (
	"testing"
)

const validSfdxProject = `{
  "packageDirectories": [
    {"path": "force-app", "default": true}
  ],
  "sourceApiVersion": "60.0"
}`

func TestDoctor_HealthyProject(t *testing.T) {
	root := testWorkspace(t)
	writeWorkspaceFile(t, root, "sfdx-project.json", validSfdxProject)
	writeWorkspaceFile(t, root, "manifest/package.xml", validManifest)
	writeWorkspaceFile(t, root, "force-app/main/default/classes/AccountService.cls", "public class AccountService {}")
	writeWorkspaceFile(t, root, "force-app/main/default/classes/AccountServiceTest.cls", "@isTest class AccountServiceTest {}")
	writeWorkspaceFile(t, root, "force-app/main/default/triggers/AccountTrigger.trigger", "trigger AccountTrigger on Account (before insert) {}")

	rep := buildDoctorReport()
	if rep.Status != "OK" {
		t.Fatalf("expected OK, got %s (%v)", rep.Status, rep.Reasons)
	}
	if !rep.Project.SfdxProjectFound || !rep.Project.SfdxProjectValid {
		t.Fatalf("expected valid sfdx project: %+v", rep.Project)
	}
	if rep.Project.SourceAPIVersion != "60.0" {
		t.Fatalf("unexpected sourceApiVersion %s", rep.Project.SourceAPIVersion)
	}
	if len(rep.Project.PackageDirs) != 1 || rep.Project.PackageDirs[0] != "force-app" {
		t.Fatalf("unexpected package dirs %v", rep.Project.PackageDirs)
	}
	if !rep.Project.ManifestFound {
		t.Fatal("expected manifest found")
	}
	if rep.Sources.ApexClassCount != 2 {
		t.Fatalf("expected 2 classes, got %d", rep.Sources.ApexClassCount)
	}
	if rep.Sources.ApexTriggerCount != 1 {
		t.Fatalf("expected 1 trigger, got %d", rep.Sources.ApexTriggerCount)
	}
	if !rep.Outputs.OutputDirWritable {
		t.Fatal("temp workspace output dir should be writable")
	}
}

func TestDoctor_EmptyWorkspaceDegraded(t *testing.T) {
	testWorkspace(t)
	rep := buildDoctorReport()
	if rep.Status != "DEGRADED" {
		t.Fatalf("expected DEGRADED, got %s", rep.Status)
	}
	if len(rep.Reasons) == 0 {
		t.Fatal("expected degradation reasons")
	}
}

func TestDoctor_InvalidSfdxProject(t *testing.T) {
	root := testWorkspace(t)
	writeWorkspaceFile(t, root, "sfdx-project.json", "{not json")

	proj, found, valid := loadSfdxProject(root)
	if !found {
		t.Fatal("file exists, should be found")
	}
	if valid || proj != nil {
		t.Fatal("malformed project file should not be valid")
	}
}

func TestDoctor_SfdxProjectNoPackageDirs(t *testing.T) {
	root := testWorkspace(t)
	writeWorkspaceFile(t, root, "sfdx-project.json", `{"sourceApiVersion": "60.0"}`)

	_, found, valid := loadSfdxProject(root)
	if !found {
		t.Fatal("expected found")
	}
	if valid {
		t.Fatal("project without packageDirectories should not be valid")
	}
}
