package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// loadEnvFiles loads .env files in order of precedence. godotenv never
// overrides variables that are already set, so the first file wins.
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeEnvFile := filepath.Join(dataDir(), ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}
