// ABOUTME: Naming and startup sweep for the scratch files flows leave in the work dir
// ABOUTME: Only files matching the flows' own temp names are ever removed

package flows

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

// Temp file prefixes. Audio output has no prefix.
const (
	prefixPDF      = "temp_"
	prefixVoicePDF = "voice_"
	prefixEmails   = "emails_"
)

// scratchName matches tempPath output: an optional prefix, a dashless uuid and an extension.
var scratchName = regexp.MustCompile(`^(` + prefixPDF + `|` + prefixVoicePDF + `|` + prefixEmails + `)?[0-9a-f]{32}(\.[A-Za-z0-9]+)?$`)

// IsScratchFile reports whether name looks like a file a flow created.
func IsScratchFile(name string) bool {
	return scratchName.MatchString(name)
}

// SweepWorkDir creates dir if needed and removes scratch files a previous run
// left behind. Anything else in dir is left alone. It returns how many files
// were removed.
func SweepWorkDir(dir string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return 0, fmt.Errorf("work dir is not set")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return 0, fmt.Errorf("creating work dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading work dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsScratchFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("removing stale scratch file", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("removed stale scratch files", "dir", dir, "count", removed)
	}
	return removed, nil
}
