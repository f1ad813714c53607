package promptbuild

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAuditRecordAppendsSameDay(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditor(AuditConfig{
		Enabled:       true,
		Dir:           dir,
		RetentionDays: 7,
		FilePrefix:    "assembly",
	})

	prompt := AssembledPrompt{
		{Prompt: RolePrompt{Role: RoleSystem, Content: "desc"}, Ident: "char_description"},
		{Prompt: RolePrompt{Role: RoleUser, Content: "hi"}, Ident: "user_input"},
	}
	if err := a.Record(Request{UserInput: "hi"}, prompt); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := a.Record(Request{UserInput: "hi"}, prompt); err != nil {
		t.Fatalf("second record: %v", err)
	}

	auditFile := filepath.Join(dir, "assembly-"+time.Now().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(auditFile)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(lines))
	}

	var rec auditRecord
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if rec.Timestamp == "" || rec.RequestDigest == "" {
		t.Fatalf("expected timestamp and request_digest to be set")
	}
	if len(rec.Idents) != 2 || rec.Idents[0] != "char_description" {
		t.Fatalf("idents = %v", rec.Idents)
	}
	if rec.Strategy != "manual" {
		t.Fatalf("strategy = %q, want manual", rec.Strategy)
	}
}

func TestAuditCleanupByDate(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	old := filepath.Join(dir, "assembly-2026-08-01.jsonl")
	if err := os.WriteFile(old, []byte("old"), 0644); err != nil {
		t.Fatalf("write old file: %v", err)
	}
	fresh := filepath.Join(dir, "assembly-2026-08-19.jsonl")
	if err := os.WriteFile(fresh, []byte("fresh"), 0644); err != nil {
		t.Fatalf("write fresh file: %v", err)
	}
	unrelated := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(unrelated, []byte("keep"), 0644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	a := NewAuditor(AuditConfig{Enabled: true, Dir: dir, RetentionDays: 7, FilePrefix: "assembly"})
	if err := a.cleanupWithNow(now); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected expired audit file removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh audit file kept: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatalf("expected unrelated file kept: %v", err)
	}
}

func TestAuditDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditor(AuditConfig{Enabled: false, Dir: dir})
	if err := a.Record(Request{}, AssembledPrompt{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("disabled auditor wrote %d files", len(entries))
	}
}
