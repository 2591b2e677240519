package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/paletteops/tokenflow/aggregate"
	"github.com/paletteops/tokenflow/config"
	"github.com/paletteops/tokenflow/spacing"
)

func writeDump(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing dump: %v", err)
	}
	return path
}

func TestRunAggregateMergesDumps(t *testing.T) {
	dir := t.TempDir()
	first := writeDump(t, dir, "shot1.json", `[
		{"type": "color", "name": "primary", "value": "#FF5733", "confidence": 0.95},
		{"type": "spacing", "name": "gap", "value": 16, "confidence": 0.8}
	]`)
	second := writeDump(t, dir, "shot2.json", `[
		{"type": "color", "name": "primary", "value": "#FF5733", "confidence": 0.88},
		{"type": "spacing", "name": "gap", "value": 15, "confidence": 0.7}
	]`)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var buf bytes.Buffer
	if err := runAggregate(config.Default(), logger, &buf, []string{first, second}); err != nil {
		t.Fatalf("runAggregate: %v", err)
	}

	var out struct {
		Colors  *aggregate.Library `json:"colors"`
		Spacing *spacing.Result    `json:"spacing"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decoding output: %v", err)
	}

	if len(out.Colors.Colors) != 1 {
		t.Fatalf("got %d colors, want 1 merged entry", len(out.Colors.Colors))
	}
	prov := out.Colors.Colors[0].Provenance
	if len(prov) != 2 {
		t.Errorf("merged color provenance = %v, want entries for both images", prov)
	}
	if len(out.Spacing.Values) != 1 {
		t.Fatalf("got %d spacing values, want 1 merged entry (15 vs 16 within 10%%)", len(out.Spacing.Values))
	}
}

func TestRunAggregateErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var buf bytes.Buffer

	if err := runAggregate(config.Default(), logger, &buf, nil); err == nil {
		t.Error("expected error for missing dump files")
	}
	if err := runAggregate(config.Default(), logger, &buf, []string{filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Error("expected error for unreadable dump")
	}

	bad := writeDump(t, t.TempDir(), "bad.json", `{"not": "an array"}`)
	if err := runAggregate(config.Default(), logger, &buf, []string{bad}); err == nil {
		t.Error("expected error for malformed dump")
	}
}
