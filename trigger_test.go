package main

import (
	"strings"
	"testing"
)

const opportunityTriggerBody = `trigger OpportunityTrigger on Opportunity (after insert, after update) {
    for (Opportunity opp : Trigger.new) {
        if (opp.StageName == 'Closed Won') {
            Task t = new Task();
            t.WhatId = opp.Id;
            t.Subject = 'Follow up';
            insert t;
        }
    }
}`

func TestAnalyzeTrigger_DMLInLoop(t *testing.T) {
	a := analyzeTriggerBody("OpportunityTrigger", "triggers/OpportunityTrigger.trigger", opportunityTriggerBody)

	if len(a.DMLInLoops) != 1 {
		t.Fatalf("expected 1 DML hit, got %d", len(a.DMLInLoops))
	}
	if a.DMLInLoops[0].Line != 7 || a.DMLInLoops[0].LoopStart != 2 {
		t.Fatalf("unexpected DML hit %+v", a.DMLInLoops[0])
	}
	if len(a.SOQLInLoops) != 0 {
		t.Fatalf("expected no SOQL hits, got %d", len(a.SOQLInLoops))
	}
	if len(a.Bulkification) != 1 {
		t.Fatalf("expected 1 bulkification issue, got %d", len(a.Bulkification))
	}
	assertContains(t, a.Bulkification[0].Message, "outside loops")
	if len(a.Bulkification[0].AffectedLines) != 1 || a.Bulkification[0].AffectedLines[0] != 7 {
		t.Fatalf("unexpected affected lines %v", a.Bulkification[0].AffectedLines)
	}

	// 1 base + 2 (DML) + 1 (issue) + 0 contexts + 1 (10 lines of code)
	if a.ComplexityScore != 5 {
		t.Fatalf("expected complexity 5, got %d", a.ComplexityScore)
	}
	assertContains(t, a.Recommendation, "bulkified collections")
	if a.LinesOfCode != 10 {
		t.Fatalf("expected 10 lines of code, got %d", a.LinesOfCode)
	}
}

func TestAnalyzeTrigger_ContextChecksCounted(t *testing.T) {
	body := `trigger AccountTrigger on Account (before insert, after update) {
    if (Trigger.isBefore) {
        validate(Trigger.new);
    }
    if (Trigger.isAfter) {
        notify(Trigger.new);
    }
}`
	a := analyzeTriggerBody("AccountTrigger", "t.trigger", body)
	if a.ContextChecks != 2 {
		t.Fatalf("expected 2 context checks, got %d", a.ContextChecks)
	}
	if len(a.DMLInLoops) != 0 {
		t.Fatalf("expected no DML hits, got %+v", a.DMLInLoops)
	}
}

func TestAnalyzeTrigger_ScoreCap(t *testing.T) {
	// Pile up enough violations to exceed the raw score
	var b strings.Builder
	b.WriteString("trigger Big on Account (after insert) {\n")
	b.WriteString("    for (Account a : Trigger.new) {\n")
	for i := 0; i < 5; i++ {
		b.WriteString("        insert record;\n")
		b.WriteString("        List<Contact> cs = [SELECT Id FROM Contact];\n")
	}
	b.WriteString("    }\n}\n")

	a := analyzeTriggerBody("Big", "big.trigger", b.String())
	if a.ComplexityScore != 10 {
		t.Fatalf("expected capped score 10, got %d", a.ComplexityScore)
	}
	assertContains(t, a.Recommendation, "Unified handler framework")
}

func TestRecommendApproach_Bands(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{1, "Simple handler class"},
		{3, "Simple handler class"},
		{4, "bulkified collections"},
		{6, "bulkified collections"},
		{7, "Unified handler framework"},
		{10, "Unified handler framework"},
	}
	for _, c := range cases {
		got := recommendApproach(c.score)
		if !strings.Contains(got, c.want) {
			t.Fatalf("score %d: expected %q in %q", c.score, c.want, got)
		}
	}
}

func TestFindTriggerFile_ByName(t *testing.T) {
	root := testWorkspace(t)
	want := writeWorkspaceFile(t, root, "force-app/main/default/triggers/AccountTrigger.trigger",
		"trigger AccountTrigger on Account (before insert) {}")

	got, err := findTriggerFile(root, "AccountTrigger")
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFindTriggerFile_ByPath(t *testing.T) {
	root := testWorkspace(t)
	writeWorkspaceFile(t, root, "force-app/main/default/triggers/AccountTrigger.trigger",
		"trigger AccountTrigger on Account (before insert) {}")

	got, err := findTriggerFile(root, "force-app/main/default/triggers/AccountTrigger.trigger")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(got, "AccountTrigger.trigger") {
		t.Fatalf("unexpected path %s", got)
	}
}

func TestFindTriggerFile_NotFound(t *testing.T) {
	root := testWorkspace(t)
	if _, err := findTriggerFile(root, "NoSuchTrigger"); err == nil {
		t.Fatal("expected error for unknown trigger")
	}
}

func TestJoinInts(t *testing.T) {
	if got := joinInts([]int{3, 7, 12}); got != "3, 7, 12" {
		t.Fatalf("unexpected join %q", got)
	}
	if got := joinInts(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
