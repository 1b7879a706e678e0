package telemetry

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "record.db")
	s, err := Open(path, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func sampleRecord() *Record {
	h := http.Header{}
	h.Set("User-Agent", "test")
	return Build(h, "10.0.0.1", "gpt-x", "chat.completions", false, false,
		[]byte(`{"model":"gpt-x"}`),
		[]byte(`{"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`))
}

func TestBuildParsesUsage(t *testing.T) {
	rec := sampleRecord()
	if rec.PromptTokens != 4 || rec.CompletionTokens != 2 || rec.TotalTokens != 6 {
		t.Errorf("tokens = %d/%d/%d", rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens)
	}
	if _, err := time.Parse(time.RFC3339, rec.Time); err != nil {
		t.Errorf("time %q not RFC3339: %v", rec.Time, err)
	}
}

func TestBuildNoUsage(t *testing.T) {
	rec := Build(http.Header{}, "1.2.3.4", "m", "text_completion", false, false, nil, []byte(`{}`))
	if rec.TotalTokens != 0 {
		t.Errorf("tokens = %d, want 0 when usage absent", rec.TotalTokens)
	}
}

func TestStoreLogAndQuery(t *testing.T) {
	s, _ := openTemp(t)
	s.Log(sampleRecord())

	var model string
	var total int
	row := s.db.QueryRow("SELECT Model, TotalTokens FROM records WHERE Model = ?", "gpt-x")
	if err := row.Scan(&model, &total); err != nil {
		t.Fatal(err)
	}
	if model != "gpt-x" || total != 6 {
		t.Errorf("row = %q/%d", model, total)
	}
}

func TestStoreRotatesOnMonthRollover(t *testing.T) {
	s, path := openTemp(t)
	s.Log(sampleRecord())

	// Backdate the file to last month; the next write must archive it.
	past := time.Now().AddDate(0, -1, 0)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}

	s.Log(sampleRecord())

	archive := filepath.Join(filepath.Dir(path), "record_"+past.Format("200601")+".db")
	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("archive missing: %v", err)
	}

	// The fresh file holds only the post-rotation record.
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("fresh store rows = %d, want 1", n)
	}
}

func TestStoreNoRotationSameMonth(t *testing.T) {
	s, path := openTemp(t)
	s.Log(sampleRecord())
	s.Log(sampleRecord())

	entries, err := filepath.Glob(filepath.Join(filepath.Dir(path), "record_*.db"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("unexpected archives: %v", entries)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}
}
