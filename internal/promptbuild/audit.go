package promptbuild

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditConfig controls the assembled-prompt audit trail.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
	FilePrefix    string `yaml:"file_prefix"`
}

// Auditor appends one JSONL record per assembly to a dated file, so a
// debugging session can reconstruct exactly what was sent and in what
// order. Records carry the entry idents, never re-ordering information.
type Auditor struct {
	cfg AuditConfig
	mu  sync.Mutex
}

// NewAuditor creates an auditor; a disabled auditor records nothing.
func NewAuditor(cfg AuditConfig) *Auditor {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = "assembly"
	}
	return &Auditor{cfg: cfg}
}

type auditRecord struct {
	Timestamp     string   `json:"timestamp"`
	RequestDigest string   `json:"request_digest"`
	Strategy      string   `json:"strategy"`
	Idents        []string `json:"idents"`
	FinalPrompt   string   `json:"final_prompt"`
}

// Record writes one audit line and prunes expired files.
func (a *Auditor) Record(req Request, prompt AssembledPrompt) error {
	if !a.cfg.Enabled {
		return nil
	}
	if err := os.MkdirAll(a.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	now := time.Now()
	strategy := "manual"
	if req.UsePreset {
		strategy = "delegated"
	}
	record := auditRecord{
		Timestamp:     now.Format(time.RFC3339),
		RequestDigest: requestDigest(req),
		Strategy:      strategy,
		Idents:        prompt.Idents(),
		FinalPrompt:   prompt.JoinText(),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	name := fmt.Sprintf("%s-%s.jsonl", a.cfg.FilePrefix, now.Format("2006-01-02"))
	if err := appendLine(filepath.Join(a.cfg.Dir, name), line); err != nil {
		return err
	}
	return a.cleanupWithNow(now)
}

func requestDigest(req Request) string {
	data, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	return nil
}

func (a *Auditor) cleanupWithNow(now time.Time) error {
	if a.cfg.RetentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(a.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list audit dir: %w", err)
	}
	cutoff := now.AddDate(0, 0, -a.cfg.RetentionDays)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, a.cfg.FilePrefix+"-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		dateText := strings.TrimSuffix(strings.TrimPrefix(name, a.cfg.FilePrefix+"-"), ".jsonl")
		day, err := time.Parse("2006-01-02", dateText)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(a.cfg.Dir, name)); err != nil {
				return fmt.Errorf("remove expired audit file: %w", err)
			}
		}
	}
	return nil
}
