package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable_HeadersOnFirstRow(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "NODE", "STATUS")
	tbl.Row("core1", "established")
	tbl.Flush()

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines (header, divider, row), got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "NODE") || !strings.Contains(lines[0], "STATUS") {
		t.Errorf("header line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "----") {
		t.Errorf("divider line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "core1") {
		t.Errorf("row line = %q", lines[2])
	}
}

func TestTable_EmptyProducesNoOutput(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "NODE", "STATUS")
	tbl.Flush()

	if buf.Len() != 0 {
		t.Errorf("empty table should print nothing, got %q", buf.String())
	}
}

func TestTable_Prefix(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "A").WithPrefix("  ")
	tbl.Row("x")
	tbl.Flush()

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if !strings.HasPrefix(line, "  ") {
			t.Errorf("line %q lacks prefix", line)
		}
	}
}
