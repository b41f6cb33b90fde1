package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
)

// EnvMap holds variables read from .env files.
type EnvMap map[string]string

// ReadEnvFile reads dir/.env. A missing file yields an empty map.
func ReadEnvFile(dir string) (EnvMap, error) {
	envPath := filepath.Join(dir, ".env")
	envMap, err := godotenv.Read(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(EnvMap), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", envPath, err)
	}
	return EnvMap(envMap), nil
}

// Merge returns a new map holding e overlaid with other; other wins on
// conflicting keys.
func (e EnvMap) Merge(other EnvMap) (EnvMap, error) {
	env := make(EnvMap, len(e)+len(other))
	if err := mergo.Merge(&env, e, mergo.WithOverride); err != nil {
		return nil, err
	}
	if err := mergo.Merge(&env, other, mergo.WithOverride); err != nil {
		return nil, err
	}
	return env, nil
}

// LoadDotEnv reads .env from each dir (later dirs win) and exports the
// result into the process environment. Variables already set in the
// environment are left untouched.
func LoadDotEnv(dirs ...string) error {
	env := make(EnvMap)
	seen := make(map[string]bool)
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err == nil {
			if seen[abs] {
				continue
			}
			seen[abs] = true
		}
		fileEnv, err := ReadEnvFile(dir)
		if err != nil {
			return err
		}
		if env, err = env.Merge(fileEnv); err != nil {
			return fmt.Errorf("failed to merge %s/.env: %w", dir, err)
		}
	}

	applied := 0
	for k, v := range env {
		if _, exists := os.LookupEnv(k); exists {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", k, err)
		}
		applied++
	}
	if applied > 0 {
		L_debug("config: applied .env variables", "count", applied)
	}
	return nil
}
