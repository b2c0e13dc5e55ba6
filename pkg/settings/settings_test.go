package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettings_Defaults(t *testing.T) {
	s := &Settings{}

	if got := s.GetHostURL(); got != "https://localhost" {
		t.Errorf("GetHostURL() default = %q, want %q", got, "https://localhost")
	}
	if got := s.GetSSHUser(); got != "root" {
		t.Errorf("GetSSHUser() default = %q, want %q", got, "root")
	}
	if s.APIKey != "" {
		t.Errorf("APIKey should be empty, got %q", s.APIKey)
	}
}

func TestSettings_Clear(t *testing.T) {
	s := &Settings{
		HostURL:    "https://vhost1.lab",
		APIKey:     "secret",
		SSHUser:    "lab",
		DefaultLab: "pods/pod1",
	}

	s.Clear()

	if s.HostURL != "" || s.APIKey != "" || s.SSHUser != "" || s.DefaultLab != "" {
		t.Error("Clear() should reset all fields to empty")
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "settings.json")

	original := &Settings{
		HostURL:     "https://vhost1.lab:443",
		APIKey:      "abc123",
		SSHUser:     "lab",
		SSHKeyFile:  "/home/lab/.ssh/id_ed25519",
		DefaultLab:  "pods/pod1",
		LinkWorkers: 8,
	}

	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if loaded.HostURL != original.HostURL {
		t.Errorf("HostURL mismatch: got %q, want %q", loaded.HostURL, original.HostURL)
	}
	if loaded.APIKey != original.APIKey {
		t.Errorf("APIKey mismatch: got %q, want %q", loaded.APIKey, original.APIKey)
	}
	if loaded.SSHKeyFile != original.SSHKeyFile {
		t.Errorf("SSHKeyFile mismatch: got %q, want %q", loaded.SSHKeyFile, original.SSHKeyFile)
	}
	if loaded.LinkWorkers != original.LinkWorkers {
		t.Errorf("LinkWorkers mismatch: got %d, want %d", loaded.LinkWorkers, original.LinkWorkers)
	}
}

func TestSettings_LoadNonExistent(t *testing.T) {
	s, err := LoadFrom("/nonexistent/path/settings.json")
	if err != nil {
		t.Fatalf("LoadFrom() non-existent should not error: %v", err)
	}
	if s == nil {
		t.Fatal("LoadFrom() should return non-nil Settings")
	}
	if s.HostURL != "" {
		t.Error("LoadFrom() non-existent should return empty settings")
	}
}

func TestSettings_LoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("invalid json {"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() with invalid JSON should error")
	}
}

func TestSettings_SaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "nested", "settings.json")

	s := &Settings{HostURL: "https://vhost1.lab"}
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() should create directories: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("SaveTo() should have created the file")
	}
}

func TestDefaultSettingsPath(t *testing.T) {
	path := DefaultSettingsPath()
	if path == "" {
		t.Error("DefaultSettingsPath() should not be empty")
	}
	if !filepath.IsAbs(path) && path != "vrlab_settings.json" {
		t.Errorf("DefaultSettingsPath() should be absolute or fallback, got %q", path)
	}
}
