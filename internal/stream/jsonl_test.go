package stream

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestReadNew_MissingFile(t *testing.T) {
	recs, off, skipped, err := ReadNew(filepath.Join(t.TempDir(), "nope.jsonl"), 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(recs) != 0 || off != 0 || skipped != 0 {
		t.Fatalf("expected empty stream, got recs=%d off=%d skipped=%d", len(recs), off, skipped)
	}
}

func TestReadNew_PartialTailLineNotConsumed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	full := "{\"a\":1}\n"
	writeFile(t, path, full+"{\"b\":2")

	recs, off, skipped, err := ReadNew(path, 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if off != int64(len(full)) {
		t.Fatalf("offset should stop before the half line: %d", off)
	}
	if skipped != 0 {
		t.Fatalf("unexpected skipped: %d", skipped)
	}

	// 补齐换行后从上次偏移继续，半行被完整消费
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("}\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	recs, off2, _, err := ReadNew(path, off)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected the completed line, got %d records", len(recs))
	}
	if recs[0]["b"] != float64(2) {
		t.Fatalf("unexpected record: %v", recs[0])
	}
	if off2 <= off {
		t.Fatalf("offset did not advance: %d -> %d", off, off2)
	}
}

func TestReadNew_BadLinesSkippedOffsetAdvances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := "{\"a\":1}\nnot json\n\n{\"c\":3}\n"
	writeFile(t, path, content)

	recs, off, skipped, err := ReadNew(path, 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", skipped)
	}
	if off != int64(len(content)) {
		t.Fatalf("offset should cover skipped lines too: %d", off)
	}
}

func TestReadNew_TruncationResetsOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeFile(t, path, "{\"a\":1}\n{\"b\":2}\n")

	_, off, _, err := ReadNew(path, 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// 文件被截断重建成更短的内容
	writeFile(t, path, "{\"x\":9}\n")

	recs, off2, _, err := ReadNew(path, off)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(recs) != 1 || recs[0]["x"] != float64(9) {
		t.Fatalf("expected re-read from zero, got %v", recs)
	}
	if off2 != 8 {
		t.Fatalf("unexpected offset after reset: %d", off2)
	}
}

func TestAppendLines_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	items := []interface{}{
		map[string]interface{}{"n": 1},
		map[string]interface{}{"n": 2},
	}
	if err := AppendLines(path, items); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendLine(path, map[string]interface{}{"n": 3}); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, _, _, err := ReadNew(path, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	n, err := CountLines(path)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 lines, got %d", n)
	}
}

func TestCursor_RoundTripAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cursor.json")

	if c := LoadCursor(path); c.Offset != 0 {
		t.Fatalf("missing cursor should be zero, got %d", c.Offset)
	}
	if err := SaveCursor(path, 1234); err != nil {
		t.Fatalf("save: %v", err)
	}
	c := LoadCursor(path)
	if c.Offset != 1234 {
		t.Fatalf("unexpected offset: %d", c.Offset)
	}
	if c.UpdatedMs == 0 {
		t.Fatalf("expected updated_ms set")
	}

	writeFile(t, path, "{garbage")
	if c := LoadCursor(path); c.Offset != 0 {
		t.Fatalf("corrupt cursor should reset to zero, got %d", c.Offset)
	}
}
