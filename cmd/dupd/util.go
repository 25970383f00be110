package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultDBPath returns "$HOME/.dupd.db" (or "./.dupd.db" when the home
// directory is unknown), used when --db is not given.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".dupd.db")
}

// validateExcludePath enforces the original's "--exclude-path must be
// absolute" rule (src/main.c).
func validateExcludePath(path string) error {
	if path == "" {
		return nil
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("--exclude-path must be absolute")
	}
	return nil
}
