package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// FromEnvironment loads .env files (missing ones are skipped), then the
// config file at path, then overlays CARECHAT_* variables. Variables already
// set in the process environment win over .env values.
func FromEnvironment(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}
