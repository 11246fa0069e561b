package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pterm/pterm"
)

func TestPrinterActiveOnlyInPlainMode(t *testing.T) {
	modes := []struct {
		mode   Mode
		name   string
		active bool
	}{
		{ModePlain, "plain", true},
		{ModeTUI, "tui", false},
		{ModeJSON, "json", false},
		{ModeQuiet, "quiet", false},
	}

	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := NewPrinterWithWriter(m.mode, false, &buf)
			p.Info("hello %s", "world")
			p.Divider()
			if p.Mode() != m.mode {
				t.Errorf("Mode() = %s", p.Mode())
			}
			hasOutput := buf.Len() > 0
			if hasOutput != m.active {
				t.Errorf("mode=%s: expected active=%v, got output=%v (len=%d)",
					m.name, m.active, hasOutput, buf.Len())
			}
		})
	}
}

func TestPrinterDebugRequiresVerbose(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModePlain, false, &buf)
	p.Debug("hidden")
	if buf.Len() > 0 {
		t.Error("Debug printed without verbose")
	}

	buf.Reset()
	p2 := NewPrinterWithWriter(ModePlain, true, &buf)
	p2.Debug("shown")
	if buf.Len() == 0 {
		t.Error("Debug did not print with verbose")
	}
}

func TestPrinterTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModePlain, false, &buf)
	p.Table(
		[]string{"Name", "Status"},
		[][]string{
			{"session-a", "done"},
			{"session-b", "failed"},
		},
	)
	out := buf.String()
	if len(out) == 0 {
		t.Error("Table produced no output")
	}
	if !bytes.Contains(buf.Bytes(), []byte("session-a")) {
		t.Error("Table missing session-a")
	}
	if !bytes.Contains(buf.Bytes(), []byte("session-b")) {
		t.Error("Table missing session-b")
	}
}

func TestPrinterKeyValueAligned(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModePlain, false, &buf)
	p.KeyValue([][]string{
		{"Session", "abc123"},
		{"Model", "gpt-4o"},
		{"broken"},
	})
	lines := strings.Split(strings.TrimRight(pterm.RemoveColorFromString(buf.String()), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if strings.Index(lines[0], "abc123") != strings.Index(lines[1], "gpt-4o") {
		t.Errorf("values not aligned:\n%s\n%s", lines[0], lines[1])
	}
}

func TestStatusIcon(t *testing.T) {
	for _, status := range []string{"done", "active", "failed", "unknown"} {
		icon := StatusIcon(status)
		if icon == "" {
			t.Errorf("StatusIcon(%q) returned empty", status)
		}
	}
}

func TestSpinnerNilSafe(t *testing.T) {
	p := NewPrinterWithWriter(ModeQuiet, false, &bytes.Buffer{})
	sp := p.Spinner("test")
	if sp != nil {
		t.Fatal("spinner started outside plain mode")
	}
	sp.Stop("done")
	sp.Fail("oops")
}

func TestPrinterBulletList(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModePlain, false, &buf)
	p.BulletList([]BulletItem{
		{Text: "item 1", Icon: "✔"},
		{Text: "item 2", Icon: "✖", Level: 1},
	})
	if buf.Len() == 0 {
		t.Error("BulletList produced no output")
	}
}

func TestPrinterDivider(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModePlain, false, &buf)
	p.Divider()
	if buf.Len() == 0 {
		t.Error("Divider produced no output")
	}
}

func TestModeFor(t *testing.T) {
	tests := []struct {
		name                          string
		jsonOut, quiet, plain, tui, tty bool
		want                          Mode
	}{
		{"json wins", true, true, true, true, true, ModeJSON},
		{"quiet", false, true, false, true, true, ModeQuiet},
		{"plain flag", false, false, true, true, true, ModePlain},
		{"no tty", false, false, false, true, false, ModePlain},
		{"tui not wanted", false, false, false, false, true, ModePlain},
		{"tui", false, false, false, true, true, ModeTUI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ModeFor(tt.jsonOut, tt.quiet, tt.plain, tt.tui, tt.tty); got != tt.want {
				t.Errorf("ModeFor = %s, want %s", got, tt.want)
			}
		})
	}
}
