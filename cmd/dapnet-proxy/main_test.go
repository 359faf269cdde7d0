package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sahmadiut/dapnet-proxy/internal/config"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.properties")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func TestRunConfigValidate(t *testing.T) {
	valid := writeProfile(t, config.SampleProfile())
	invalid := writeProfile(t, "profileName=broken\n")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "no profiles", args: nil, want: 1},
		{name: "valid", args: []string{valid}, want: 0},
		{name: "invalid", args: []string{invalid}, want: 1},
		{name: "one invalid of two", args: []string{valid, invalid}, want: 1},
		{name: "missing file", args: []string{filepath.Join(t.TempDir(), "nope")}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runConfigValidate(tt.args); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunConfigSample(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{args: nil, want: 0},
		{args: []string{"--type", "app"}, want: 0},
		{args: []string{"--type", "profile"}, want: 0},
		{args: []string{"--type", "server"}, want: 1},
	}

	for _, tt := range tests {
		if got := runConfigSample(tt.args); got != tt.want {
			t.Errorf("runConfigSample(%v) = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestRunConfigCommand(t *testing.T) {
	if got := runConfigCommand([]string{"generate"}); got != 1 {
		t.Errorf("unknown subcommand exit code = %d, want 1", got)
	}
	if got := runConfigCommand(nil); got != 0 {
		t.Errorf("no subcommand exit code = %d, want 0", got)
	}
}

func TestRunProxyExitCodes(t *testing.T) {
	invalid := writeProfile(t, "profileName=broken\n")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "version", args: []string{"--version"}, want: 0},
		{name: "no profiles", args: nil, want: 1},
		{name: "unknown flag", args: []string{"--bogus"}, want: 1},
		{name: "no valid profile", args: []string{"--log-level", "error", invalid}, want: 1},
		{name: "bad log level", args: []string{"--log-level", "loud", invalid}, want: 1},
		{name: "missing app config", args: []string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), invalid}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runProxy(tt.args); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
		})
	}
}
