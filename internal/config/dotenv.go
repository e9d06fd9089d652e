package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"mxdeploy/internal/logger"
)

// LoadDotEnv loads ~/.config/mxdeploy/.env and then <dir>/.env into the
// process environment. Variables already set are kept, so the shell wins
// over the project file and the project file over the user file. Nothing is
// loaded in test mode.
func LoadDotEnv(dir string, testMode bool) error {
	if testMode {
		return nil
	}

	// Project first: loadDotEnvFile never overrides.
	paths := []string{filepath.Join(dir, ".env")}
	if cfg, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(cfg, "mxdeploy", ".env"))
	}
	for _, path := range paths {
		if err := loadDotEnvFile(path); err != nil {
			return err
		}
	}
	return nil
}

// loadDotEnvFile sets the variables of the .env file at path that are not
// yet set. A missing file is not an error.
func loadDotEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read .env file %s: %w", path, err)
	}

	envMap, err := godotenv.Unmarshal(string(data))
	if err != nil {
		return fmt.Errorf("failed to parse .env file %s: %w", path, err)
	}

	loaded := 0
	for key, value := range envMap {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s from %s: %w", key, path, err)
		}
		loaded++
	}
	logger.Debug("Loaded .env file", "path", path, "variables", loaded)
	return nil
}
