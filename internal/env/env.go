package env

import (
	"fmt"
	"log/slog"
	"os"
)

// Prepare creates every missing directory with its parents. Existing
// directories are left alone.
func Prepare(logger *slog.Logger, dirs ...string) error {
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("env: create %q: %w", dir, err)
		}
		logger.Info("created directory", "path", dir)
	}
	return nil
}
