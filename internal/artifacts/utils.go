package artifacts

import (
	"errors"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// PathFromURI returns the local path of a file:// URI.
func PathFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, fileScheme) {
		return "", errors.New("not a file:// URI")
	}
	return strings.TrimPrefix(uri, fileScheme), nil
}

// FileURI returns the file:// URI of path.
func FileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fileScheme + filepath.ToSlash(path)
}

// ChecksumPath is where the md5 file of an image is written.
func ChecksumPath(imagePath string) string {
	return imagePath + ".md5"
}

// ManifestPath is where the manifest of an image is written.
func ManifestPath(imagePath string) string {
	return imagePath + ".manifest.yaml"
}
