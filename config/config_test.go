package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sshkexd.yaml")
	contents := "listen_address: \"0.0.0.0:2222\"\nhost_key_path: /etc/sshkexd/host_key\nusername_allowlist:\n  - alice\n  - bob\nrekey_threshold_bytes: 1073741824\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing fixture config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:2222" {
		t.Fatalf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.RekeyThresholdBytes != 1073741824 {
		t.Fatalf("RekeyThresholdBytes = %d", cfg.RekeyThresholdBytes)
	}
	if !cfg.AllowsUsername("alice") || cfg.AllowsUsername("eve") {
		t.Fatalf("AllowsUsername did not respect the allowlist: %+v", cfg.UsernameAllowlist)
	}
}

func TestAllowsUsernameEmptyAllowlistPermitsAll(t *testing.T) {
	cfg := &Config{}
	if !cfg.AllowsUsername("anyone") {
		t.Fatalf("empty allowlist should permit every username")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error loading a missing file")
	}
}
