package results

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

func TestWriteBatch(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	batch := content.DispatchBatch{
		Results:      []content.QueryResult{{Query: "go concurrency"}},
		SuccessCount: 1,
	}
	path, err := w.WriteBatch("Go Concurrency Patterns!", batch)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	base := filepath.Base(path)
	if !strings.HasPrefix(base, "search-") || !strings.HasSuffix(base, "-go-concurrency-patterns.json") {
		t.Errorf("unexpected file name %q", base)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var saved batchFile
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if saved.Batch.SuccessCount != 1 || len(saved.Batch.Results) != 1 {
		t.Errorf("saved batch = %+v", saved.Batch)
	}
}

func TestWriteBatchDisabled(t *testing.T) {
	path, err := New("").WriteBatch("x", content.DispatchBatch{})
	if err != nil || path != "" {
		t.Errorf("disabled writer: path=%q err=%v", path, err)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Go Concurrency", "go-concurrency"},
		{"  !!  ", "batch"},
		{"a/b?c", "a-b-c"},
	}
	for _, tt := range tests {
		if got := slug(tt.in); got != tt.want {
			t.Errorf("slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
