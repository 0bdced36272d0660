package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.runCLI(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(env.baseDir, "sample", "config.toml")
	out, _, err = env.runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
}

func TestConfigInitRefusesOverwriteWithoutFlag(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(env.baseDir, "existing.toml")
	if err := os.WriteFile(target, []byte("placeholder"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	_, _, err := env.runCLI(t, "config", "init", "--path", target)
	if err == nil {
		t.Fatal("expected error when config already exists")
	}

	_, _, err = env.runCLI(t, "config", "init", "--path", target, "--overwrite")
	if err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}
