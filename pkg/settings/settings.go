// Package settings manages persistent user settings for the vrlab CLI.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings holds persistent user preferences
type Settings struct {
	// HostURL is the control-plane base URL, e.g. "https://vhost1.lab:443"
	HostURL string `json:"host_url,omitempty"`

	// APIKey authenticates against the control-plane REST API
	APIKey string `json:"api_key,omitempty"`

	// SSHUser is the host account used for cross-checks
	SSHUser string `json:"ssh_user,omitempty"`

	// SSHKeyFile is the private key used for cross-checks; empty means
	// prompt for a password
	SSHKeyFile string `json:"ssh_key_file,omitempty"`

	// DefaultLab is the lab to use when --lab is not specified
	DefaultLab string `json:"default_lab,omitempty"`

	// NodeWorkers overrides the engine's node provisioning concurrency
	NodeWorkers int `json:"node_workers,omitempty"`

	// LinkWorkers overrides the engine's link establishment concurrency
	LinkWorkers int `json:"link_workers,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vrlab_settings.json"
	}
	return filepath.Join(home, ".vrlab", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty settings if file doesn't exist
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetHostURL returns the host URL (with fallback)
func (s *Settings) GetHostURL() string {
	if s.HostURL != "" {
		return s.HostURL
	}
	return "https://localhost"
}

// GetSSHUser returns the SSH user (with fallback)
func (s *Settings) GetSSHUser() string {
	if s.SSHUser != "" {
		return s.SSHUser
	}
	return "root"
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
