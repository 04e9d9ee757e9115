package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	if versionCmd == nil {
		t.Fatal("versionCmd is nil")
	}

	if versionCmd.Use != "version" {
		t.Errorf("Unexpected Use: %s", versionCmd.Use)
	}

	if versionCmd.Short != "Print version information" {
		t.Errorf("Unexpected Short: %s", versionCmd.Short)
	}

	if versionCmd.Flags().Lookup("json") == nil {
		t.Error("--json flag not found on version command")
	}
}

func TestVersionOutput(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	versionOutputJSON = false
	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"digest version", "commit:", "built:"} {
		if !strings.Contains(output, want) {
			t.Errorf("version output does not contain %q. Output:\n%s", want, output)
		}
	}
}

func TestVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	versionOutputJSON = true
	defer func() { versionOutputJSON = false }()

	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version --json failed: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("invalid JSON: %v\nOutput:\n%s", err, buf.String())
	}
	if info["service_name"] != "meeting-digest" {
		t.Errorf("service_name = %q, want meeting-digest", info["service_name"])
	}
}

func TestRootSubcommands(t *testing.T) {
	want := []string{"serve", "process", "db", "auth", "runs", "health", "config", "completion", "version"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("root command is missing %q", name)
		}
	}
}

func TestLoadConfigFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  http_addr: \":8088\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfgFile, outputFormat, logLevel = path, "json", "debug"
	defer func() { cfgFile, outputFormat, logLevel, cfg = "", "", "", nil }()

	if err := loadConfig(); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	got := currentConfig()
	if got.Server.HTTPAddr != ":8088" {
		t.Errorf("HTTPAddr = %q, want :8088", got.Server.HTTPAddr)
	}
	if got.OutputFormat != "json" {
		t.Errorf("OutputFormat = %q, want json", got.OutputFormat)
	}
	if got.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", got.Log.Level)
	}
}

func TestLoadConfigRejectsOutputFormat(t *testing.T) {
	cfgFile, outputFormat = filepath.Join(t.TempDir(), "missing.yaml"), "yaml"
	defer func() { cfgFile, outputFormat, cfg = "", "", nil }()

	if err := loadConfig(); err == nil {
		t.Fatal("expected error for unsupported output format")
	}
}
