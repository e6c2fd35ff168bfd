package support

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// AuditEntry is one line of the append-only .sfcheck/audit.log.
type AuditEntry struct {
	TimestampUtc   string `json:"timestampUtc"`
	RunID          string `json:"runId,omitempty"`
	Mode           string `json:"mode"`
	ErrorCount     int    `json:"errorCount"`
	WarningCount   int    `json:"warningCount"`
	PassCount      int    `json:"passCount"`
	ScanStatus     string `json:"scanStatus,omitempty"`
	CertificateSHA string `json:"certificate_hash,omitempty"`
	DryRun         bool   `json:"dryRun,omitempty"`
	Actions        int    `json:"actions,omitempty"`
	Result         string `json:"result,omitempty"`
}

func AppendAudit(workspace string, entry AuditEntry) error {
	entry.TimestampUtc = time.Now().UTC().Format(time.RFC3339)
	path := filepath.Join(workspace, ".sfcheck", "audit.log")
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
