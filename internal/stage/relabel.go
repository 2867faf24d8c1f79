package stage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Relabel walks root recursively, selects media files by extension, sorts
// them by full path, and renames each to "{prefix} {NN}{ext}" with a
// 1-based zero-padded sequence. Renaming is best-effort per file: a failed
// rename is logged and skipped without aborting the stage. Re-running with
// the same prefix and unchanged files produces the same names.
func Relabel(root, prefix string, padWidth int, logger *slog.Logger) (RelabelResult, error) {
	paths, err := ListFiles(root)
	if err != nil {
		return RelabelResult{}, internalFailure(err)
	}

	var media []string
	for _, p := range paths {
		if IsMedia(p) {
			media = append(media, p)
		}
	}

	result := RelabelResult{TotalEligible: len(media)}
	for i, path := range media {
		newName := fmt.Sprintf("%s %0*d%s", prefix, padWidth, i+1, filepath.Ext(path))
		newPath := filepath.Join(filepath.Dir(path), newName)
		if path == newPath {
			result.Renamed++
			continue
		}
		if _, err := os.Lstat(newPath); err == nil {
			// A different file already bears the target name; renaming would
			// silently overwrite it.
			logger.Warn("relabel target already exists, skipping", "path", path, "target", newName)
			continue
		}
		if err := os.Rename(path, newPath); err != nil {
			logger.Warn("rename failed", "path", path, "target", newName, "error", err)
			continue
		}
		result.Renamed++
	}

	return result, nil
}
