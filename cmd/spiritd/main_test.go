package main

import (
	"bytes"
	"testing"
)

func TestRootCmdIncludesSubcommands(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"run", "version", "config", "inspect"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestConfigSchemaCmdPrintsValidJSON(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "schema"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute config schema command: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(`"properties"`)) {
		t.Fatalf("expected JSON schema output with a properties field, got %q", out.String())
	}
}

func TestVersionCmdPrintsVersionAndCommit(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute version command: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(version)) {
		t.Fatalf("expected output to contain version %q, got %q", version, out.String())
	}
}

func TestRunCmdDefaultsConfigFlag(t *testing.T) {
	cmd := newRunCmd()
	flag := cmd.Flags().Lookup("config")
	if flag == nil {
		t.Fatalf("expected a --config flag")
	}
	if flag.DefValue != "spiritd.yaml" {
		t.Fatalf("expected default config path 'spiritd.yaml', got %q", flag.DefValue)
	}
}
