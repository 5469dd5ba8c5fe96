package conf

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaultConfigPaths returns the list of directories searched for the
// config file, most specific first.
func GetDefaultConfigPaths() ([]string, error) {
	var paths []string

	// Current working directory first so local overrides win
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, wd)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("error getting user config directory: %w", err)
	}
	paths = append(paths, filepath.Join(configDir, "identree-go"))

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error getting user home directory: %w", err)
	}
	paths = append(paths, filepath.Join(homeDir, ".config", "identree-go"))

	return paths, nil
}

// GetBasePath expands and normalizes a directory path, creating it if it
// does not exist.
func GetBasePath(path string) string {
	expandedPath := os.ExpandEnv(path)
	basePath := filepath.Clean(expandedPath)

	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		if err := os.MkdirAll(basePath, 0o750); err != nil {
			fmt.Printf("failed to create directory '%s': %v\n", basePath, err)
		}
	}

	return basePath
}
