package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testdata = "../../internal/cfgfile/testdata"

// run executes the command line with a private config and no terminal
// features.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "evmstack.toml")
	content := "[cache]\ndir = \"" + filepath.ToSlash(filepath.Join(dir, "cache")) + "\"\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	full := append([]string{args[0], "--config", cfgPath, "--color", "off"}, args[1:]...)
	rootCmd.SetArgs(full)
	err := execute()
	return stdout.String(), stderr.String(), err
}

func TestLayoutCommandText(t *testing.T) {
	out, _, err := run(t, "layout", "--ui", "off", "--format", "text", "--no-spill=false",
		filepath.Join(testdata, "add.toml"))
	if err != nil {
		t.Fatalf("layout failed: %v", err)
	}
	for _, want := range []string{"main:\n", "(start):\n", "entry [ ]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestLayoutCommandSpillsJSON(t *testing.T) {
	out, _, err := run(t, "layout", "--ui", "off", "--format", "json", "--no-spill=false",
		filepath.Join(testdata, "deep.toml"))
	if err != nil {
		t.Fatalf("layout failed: %v", err)
	}
	var doc fileJSON
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(doc.Spilled) == 0 {
		t.Fatal("expected spilled variables")
	}
	if doc.Spilled[0].Addr != "0x80" {
		t.Errorf("first spill address = %s, want 0x80", doc.Spilled[0].Addr)
	}
	if len(doc.Entries) != 1 || doc.Entries[0].Name != "main" {
		t.Errorf("unexpected entries: %+v", doc.Entries)
	}
}

func TestCheckCommandFailsWithoutSpilling(t *testing.T) {
	out, _, err := run(t, "check", "--ui", "off", "--format", "text", "--no-spill",
		filepath.Join(testdata, "add.toml"), filepath.Join(testdata, "deep.toml"))
	if !errors.Is(err, errDiagnostics) {
		t.Fatalf("err = %v, want errDiagnostics", err)
	}
	if !strings.Contains(out, "LAY3") {
		t.Errorf("expected a layout diagnostic:\n%s", out)
	}
	if !strings.Contains(out, "1 of 2 graphs failed") {
		t.Errorf("missing summary:\n%s", out)
	}
}

func TestCheckCommandRejectsUnknownFormat(t *testing.T) {
	_, _, err := run(t, "check", "--ui", "off", "--format", "yaml", "--no-spill=false",
		filepath.Join(testdata, "add.toml"))
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("err = %v", err)
	}
}

func TestReadUIMode(t *testing.T) {
	for value, want := range map[string]uiMode{"": uiModeAuto, "ON": uiModeOn, " off ": uiModeOff} {
		got, err := readUIMode(value)
		if err != nil || got != want {
			t.Errorf("readUIMode(%q) = %q, %v", value, got, err)
		}
	}
	if _, err := readUIMode("sometimes"); err == nil {
		t.Error("expected an error")
	}
}
