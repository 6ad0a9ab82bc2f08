package imaging

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kdomanski/iso9660"
)

// DefaultVolumeLabel is used when a label sanitizes to nothing.
const DefaultVolumeLabel = "ISOFORGE"

// Entry places a local file or directory at Target inside the image.
type Entry struct {
	Source string
	Target string
}

// WriteISO writes entries into a new ISO 9660 image at imagePath. A
// partially written image is removed on failure.
func WriteISO(imagePath, volumeLabel string, entries ...Entry) error {
	writer, err := iso9660.NewWriter()
	if err != nil {
		return fmt.Errorf("create iso writer: %w", err)
	}
	defer writer.Cleanup()

	for _, entry := range entries {
		info, err := os.Stat(entry.Source)
		if err != nil {
			return fmt.Errorf("stage %s: %w", entry.Source, err)
		}
		target := strings.TrimPrefix(path.Clean("/"+entry.Target), "/")
		if info.IsDir() {
			if target == "" {
				target = "/"
			}
			err = writer.AddLocalDirectory(entry.Source, target)
		} else {
			if target == "" {
				target = filepath.Base(entry.Source)
			}
			err = writer.AddLocalFile(entry.Source, target)
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", entry.Source, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(imagePath), 0o755); err != nil {
		return fmt.Errorf("ensure image directory: %w", err)
	}

	out, err := os.OpenFile(imagePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}

	if err := writer.WriteTo(out, SanitizeVolumeLabel(volumeLabel)); err != nil {
		out.Close()
		_ = os.Remove(imagePath)
		return fmt.Errorf("write iso: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(imagePath)
		return fmt.Errorf("finalize iso: %w", err)
	}
	return nil
}

// ListISO returns the slash-separated paths of every regular file in the
// image, sorted.
func ListISO(imagePath string) ([]string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	image, err := iso9660.OpenImage(f)
	if err != nil {
		return nil, fmt.Errorf("open iso %s: %w", imagePath, err)
	}
	root, err := image.RootDir()
	if err != nil {
		return nil, fmt.Errorf("read iso root: %w", err)
	}

	var files []string
	var walk func(dir *iso9660.File, prefix string) error
	walk = func(dir *iso9660.File, prefix string) error {
		children, err := dir.GetChildren()
		if err != nil {
			return err
		}
		for _, child := range children {
			name, _, _ := strings.Cut(child.Name(), ";")
			name = path.Join(prefix, name)
			if child.IsDir() {
				if err := walk(child, name); err != nil {
					return err
				}
				continue
			}
			files = append(files, name)
		}
		return nil
	}
	if err := walk(root, ""); err != nil {
		return nil, fmt.Errorf("walk iso %s: %w", imagePath, err)
	}
	sort.Strings(files)
	return files, nil
}

// MD5File returns the hex md5 digest of a file.
func MD5File(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SanitizeVolumeLabel joins parts with "_" and reduces them to the
// upper-case d-character set, at most 32 characters.
func SanitizeVolumeLabel(parts ...string) string {
	const maxLen = 32

	label := strings.Join(parts, "_")

	var b strings.Builder
	for _, r := range label {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	result := b.String()
	if strings.Trim(result, "_") == "" {
		return DefaultVolumeLabel
	}
	return result
}
