package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/mmcdole/offgrid/internal/domain"
)

const alpsYAML = `
id: alps
name: Swiss Alps
bounds: {west: 5.9, south: 45.8, east: 10.5, north: 47.8}
min_zoom: 4
max_zoom: 8
format: jpg
max_bytes: 1000000
metadata:
  source: test
template: https://{s}.tiles.test/{z}/{x}/{y}.jpg
subdomains: [a, b]
`

func TestParseRegionFile(t *testing.T) {
	def, rf, err := parseRegionFile([]byte(alpsYAML))
	if err != nil {
		t.Fatalf("parseRegionFile: %v", err)
	}
	if def.ID != "alps" || def.Name != "Swiss Alps" || def.Format != domain.FormatJPG {
		t.Errorf("def = %+v", def)
	}
	if def.Bounds.Min.Lon() != 5.9 || def.Bounds.Max.Lat() != 47.8 {
		t.Errorf("bounds = %v", def.Bounds)
	}
	if def.MaxBytes != 1000000 || def.Metadata["source"] != "test" {
		t.Errorf("budget/metadata = %d %v", def.MaxBytes, def.Metadata)
	}
	if rf.Template == "" || len(rf.Subdomains) != 2 {
		t.Errorf("source overrides = %q %v", rf.Template, rf.Subdomains)
	}
}

func TestParseRegionFile_Defaults(t *testing.T) {
	def, _, err := parseRegionFile([]byte("id: tiny\nbounds: {west: 0, south: 0, east: 1, north: 1}\n"))
	if err != nil {
		t.Fatalf("parseRegionFile: %v", err)
	}
	if def.Name != "tiny" || def.Format != domain.FormatPNG || def.MinZoom != 0 || def.MaxZoom != 0 {
		t.Errorf("def = %+v", def)
	}
}

func TestParseRegionFile_Invalid(t *testing.T) {
	tests := map[string]string{
		"zoom order":  "id: x\nmin_zoom: 5\nmax_zoom: 2\n",
		"south>north": "id: x\nbounds: {west: 0, south: 10, east: 1, north: 5}\n",
		"no id":       "name: nothing\n",
		"bad format":  "id: x\nformat: gif\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := parseRegionFile([]byte(doc)); !errors.Is(err, domain.ErrInvalidRegion) {
				t.Errorf("err = %v, want ErrInvalidRegion", err)
			}
		})
	}

	if _, _, err := parseRegionFile([]byte("id: [unclosed")); err == nil {
		t.Error("malformed YAML accepted")
	}
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false}
	for in, want := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(in), &out, "Delete?"); got != want {
			t.Errorf("confirm(%q) = %v, want %v", in, got, want)
		}
		if !strings.Contains(out.String(), "[y/N]") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("offgrid %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestCLI_VersionAndQueue(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(home)

	if out := execute(t, "version"); !strings.Contains(out, "offgrid "+Version) {
		t.Errorf("version output = %q", out)
	}

	out := execute(t, "queue", "push", "--url", "http://api.test/notes/1", "--method", "put", "--body", `{"a":1}`, "--dedupe", "note-1")
	if !strings.HasPrefix(out, "Queued ") {
		t.Fatalf("push output = %q", out)
	}
	execute(t, "queue", "push", "--url", "http://api.test/notes/1", "--method", "put", "--body", `{"a":2}`, "--dedupe", "note-1")

	out = execute(t, "queue", "ls")
	if strings.Count(out, "PUT http://api.test/notes/1") != 1 {
		t.Errorf("dedupe key did not collapse tasks:\n%s", out)
	}

	if out := execute(t, "queue", "clear"); !strings.Contains(out, "Cleared 1 tasks") {
		t.Errorf("clear output = %q", out)
	}
	if out := execute(t, "queue", "ls"); !strings.Contains(out, "Queue is empty") {
		t.Errorf("ls after clear = %q", out)
	}
}
