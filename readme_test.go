package main

import (
	"os"
	"strings"
	"testing"
)

func TestREADMEDocumentsCommands(t *testing.T) {
	content, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("Failed to read README.md: %v", err)
	}

	readmeText := string(content)

	// Every shipped subcommand must be documented.
	for _, cmd := range []string{"review", "generate", "serve", "mcp", "logs"} {
		if !strings.Contains(readmeText, "`"+cmd+"`") {
			t.Errorf("README.md missing documentation for the %s command", cmd)
		}
	}

	if !strings.Contains(readmeText, "chisel-dash") {
		t.Error("README.md missing the chisel-dash dashboard")
	}

	// Configuration docs must name the supported overrides.
	requiredSettings := []string{
		"CHISEL_HOME",
		"CHISEL_DATA_DIR",
		"CHISEL_RUNLOG_PATH",
		"CHISEL_MODEL",
		"OPENSCAD_BINARY",
		"ANTHROPIC_API_KEY",
		"config.yaml",
		"presets.toml",
	}
	for _, setting := range requiredSettings {
		if !strings.Contains(readmeText, setting) {
			t.Errorf("README.md missing configuration entry %s", setting)
		}
	}

	if !strings.Contains(readmeText, "## References") {
		t.Error("README.md missing ## References section")
	}
}
