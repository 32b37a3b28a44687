package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("acme")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Objectives.PrivilegedCategory != "Company" || cfg.Objectives.DefaultCategory != "General" {
		t.Fatalf("unexpected category defaults: %+v", cfg.Objectives)
	}
	if cfg.KeyResults.WinConditionTarget != 999999 || cfg.KeyResults.DefaultUnit != "%" {
		t.Fatalf("unexpected key result defaults: %+v", cfg.KeyResults)
	}
	if len(cfg.Categories) != 6 || cfg.Categories[0] != "Company" {
		t.Fatalf("unexpected categories %v", cfg.Categories)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"missing name":        func(c *Config) { c.Workspace.Name = "" },
		"duplicate category":  func(c *Config) { c.Categories = append(c.Categories, "sales") },
		"empty category":      func(c *Config) { c.Categories = append(c.Categories, " ") },
		"zero sentinel":       func(c *Config) { c.KeyResults.WinConditionTarget = 0 },
		"bad webhook url":     func(c *Config) { c.Webhooks = []Webhook{{URL: "ftp://x"}} },
		"no privileged name":  func(c *Config) { c.Objectives.PrivilegedCategory = "" },
		"negative hook timer": func(c *Config) { c.Webhooks = []Webhook{{URL: "http://x", TimeoutSeconds: -1}} },
	}
	for name, mutate := range cases {
		cfg := Default("acme")
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestRoundTripThroughFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadOptional(dir); err != nil {
		t.Fatalf("load optional missing: %v", err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "fq init") {
		t.Fatalf("expected hint error, got %v", err)
	}
	cfg := Default("acme")
	off := false
	cfg.Webhooks = []Webhook{{URL: "https://hooks.example/x", Events: []string{"win.logged"}, Enabled: &off}}
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "frequency.yml"), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Workspace.Name != "acme" || len(loaded.Webhooks) != 1 || loaded.Webhooks[0].IsEnabled() {
		t.Fatalf("unexpected loaded config %+v", loaded)
	}
}
