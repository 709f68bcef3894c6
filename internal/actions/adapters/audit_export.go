package adapters

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"commandbridge/internal/actions/ports"
	auditmodels "commandbridge/internal/audit/models"
	"commandbridge/pkg/platform/validation"
)

// AuditSearcher pages through audit records without access checks.
type AuditSearcher interface {
	Search(ctx context.Context, filter auditmodels.Filter, limit int, rawCursor string) (*auditmodels.Page, error)
}

// AuditFileExporter writes audit records as JSON lines into a directory.
type AuditFileExporter struct {
	audit AuditSearcher
	dir   string
	now   func() time.Time
}

func NewAuditFileExporter(audit AuditSearcher, dir string, now func() time.Time) *AuditFileExporter {
	if now == nil {
		now = time.Now
	}
	return &AuditFileExporter{audit: audit, dir: dir, now: now}
}

var _ ports.AuditExporter = (*AuditFileExporter)(nil)

// Export streams at most maxRecords records newest first. Truncated is set
// when more matching records exist beyond the cap.
func (e *AuditFileExporter) Export(ctx context.Context, from, to time.Time, maxRecords int) (ports.ExportResult, error) {
	if maxRecords < 1 {
		maxRecords = 1
	}
	if err := os.MkdirAll(e.dir, 0o750); err != nil {
		return ports.ExportResult{}, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(e.dir, fmt.Sprintf("audit-%s.jsonl", e.now().UTC().Format("20060102-150405.000")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return ports.ExportResult{}, fmt.Errorf("create export file: %w", err)
	}

	res, writeErr := e.write(ctx, f, auditmodels.Filter{From: from, To: to}, maxRecords)
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(path)
		return ports.ExportResult{}, writeErr
	}
	res.Location = path
	return res, nil
}

func (e *AuditFileExporter) write(ctx context.Context, f *os.File, filter auditmodels.Filter, maxRecords int) (ports.ExportResult, error) {
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	var res ports.ExportResult
	cursor := ""
	for {
		page, err := e.audit.Search(ctx, filter, validation.MaxAuditLimit, cursor)
		if err != nil {
			return res, fmt.Errorf("read audit page: %w", err)
		}
		for _, rec := range page.Records {
			if res.Count == maxRecords {
				res.Truncated = true
				return res, w.Flush()
			}
			if err := enc.Encode(rec); err != nil {
				return res, fmt.Errorf("write audit record: %w", err)
			}
			res.Count++
		}
		if page.NextCursor == "" {
			return res, w.Flush()
		}
		if res.Count == maxRecords {
			res.Truncated = true
			return res, w.Flush()
		}
		cursor = page.NextCursor
	}
}
