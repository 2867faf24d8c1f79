package stage

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// photoExtensions and videoExtensions form the media allow-list used by the
// relabel stage. Lookup is case-insensitive.
var photoExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tiff": true, ".webp": true, ".heic": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".flv": true, ".wmv": true, ".webm": true, ".m4v": true,
	".3gp": true, ".mpeg": true,
}

// ListFiles returns every regular file under root, sorted by full path for
// deterministic ordering. It is the single walk primitive shared by the
// fetch sanity check, relabel, and publish file selection.
func ListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// IsMedia reports whether the path has a photo or video extension.
func IsMedia(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return photoExtensions[ext] || videoExtensions[ext]
}

// IsVideo reports whether the path has a video extension.
func IsVideo(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}
