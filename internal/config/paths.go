package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard paths for AIPex data.
type Paths struct {
	Data   string // ~/.local/share/aipex
	Config string // ~/.config/aipex
}

// GetPaths returns the standard paths for AIPex data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "aipex"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "aipex"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath returns the path to the conversation storage directory.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// StorageDir resolves where conversations are stored for cfg.
func StorageDir(storageDir string) string {
	if storageDir != "" {
		return expandPath(storageDir, ".")
	}
	return GetPaths().StoragePath()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "aipex.json")
}
