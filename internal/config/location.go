package config

import (
	"os"
	"path/filepath"
)

// GetConfigPath returns the configuration file path. TICKTREE_CONFIG wins,
// otherwise the file is ~/.ticktree/config.
func GetConfigPath() (string, error) {
	if configPath := os.Getenv("TICKTREE_CONFIG"); configPath != "" {
		return configPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".ticktree", "config"), nil
}
