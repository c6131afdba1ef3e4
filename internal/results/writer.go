// Package results persists raw dispatch batches as timestamped JSON for
// audit and debugging. Files are write-only from the engine's point of
// view and never read back during a session.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

// Writer saves dispatch batches under a results directory.
type Writer struct {
	dir string
}

// New builds a Writer. An empty dir disables persistence.
func New(dir string) *Writer {
	return &Writer{dir: dir}
}

// Enabled reports whether batches will be written.
func (w *Writer) Enabled() bool { return w != nil && w.dir != "" }

type batchFile struct {
	SavedAt time.Time             `json:"saved_at"`
	Label   string                `json:"label"`
	Batch   content.DispatchBatch `json:"batch"`
}

// WriteBatch saves one batch as search-<timestamp>-<slug>.json. Write
// failures are returned so the caller can log them, but callers treat
// persistence as best-effort.
func (w *Writer) WriteBatch(label string, batch content.DispatchBatch) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	name := fmt.Sprintf("search-%s-%s.json", time.Now().Format("20060102-150405"), slug(label))
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(batchFile{
		SavedAt: time.Now(),
		Label:   label,
		Batch:   batch,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write batch: %w", err)
	}
	return path, nil
}

// slug reduces a label to a short filesystem-safe token.
func slug(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > 40 {
		s = s[:40]
	}
	if s == "" {
		s = "batch"
	}
	return s
}
