package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/isoforge/internal/imaging"
)

// PublishRequest describes an image that has just been written.
type PublishRequest struct {
	ImagePath string
	Spec      string
	Strategy  string
	Title     string
	Release   string
	Arch      string
	Squashfs  string // in-image path of the root filesystem, if any

	// WriteManifest enables the YAML manifest; the md5 file is always written.
	WriteManifest bool
}

// Publish writes the md5 file and, when requested, the manifest for an image.
func Publish(req PublishRequest) (Manifest, error) {
	info, err := os.Stat(req.ImagePath)
	if err != nil {
		return Manifest{}, fmt.Errorf("stat image: %w", err)
	}

	sum, err := imaging.MD5File(req.ImagePath)
	if err != nil {
		return Manifest{}, fmt.Errorf("checksum image: %w", err)
	}
	checksumPath := ChecksumPath(req.ImagePath)
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(req.ImagePath))
	if err := os.WriteFile(checksumPath, []byte(line), 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write checksum: %w", err)
	}

	manifest := Manifest{
		ID:        uuid.NewString(),
		Spec:      req.Spec,
		Strategy:  req.Strategy,
		Title:     req.Title,
		Release:   req.Release,
		Arch:      req.Arch,
		Squashfs:  req.Squashfs,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Artifacts: []Artifact{
			{Kind: ImageArtifact, URI: FileURI(req.ImagePath), Checksum: &sum, Size: info.Size()},
			{Kind: ChecksumArtifact, URI: FileURI(checksumPath)},
		},
	}
	if !req.WriteManifest {
		return manifest, nil
	}

	contents, err := imaging.ListISO(req.ImagePath)
	if err != nil {
		return Manifest{}, err
	}
	manifest.Contents = contents
	manifest.Artifacts = append(manifest.Artifacts, Artifact{Kind: ManifestArtifact, URI: FileURI(ManifestPath(req.ImagePath))})

	if err := WriteManifest(ManifestPath(req.ImagePath), manifest); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// WriteManifest encodes manifest as YAML at path.
func WriteManifest(path string, manifest Manifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest decodes the manifest at path.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return manifest, nil
}

// ErrChecksumMismatch is returned by Verify when an image no longer matches
// its manifest.
var ErrChecksumMismatch = errors.New("image checksum mismatch")

// Verify reads the manifest at path and checks the image it lists against
// the recorded size and md5 sum.
func Verify(path string) (Manifest, error) {
	manifest, err := ReadManifest(path)
	if err != nil {
		return Manifest{}, err
	}
	img, ok := manifest.Image()
	if !ok || img.Checksum == nil {
		return manifest, fmt.Errorf("%s: manifest lists no checksummed image", path)
	}
	imagePath, err := PathFromURI(img.URI)
	if err != nil {
		return manifest, fmt.Errorf("%s: image %s: %w", path, img.URI, err)
	}

	info, err := os.Stat(imagePath)
	if err != nil {
		return manifest, fmt.Errorf("stat image: %w", err)
	}
	if info.Size() != img.Size {
		return manifest, fmt.Errorf("%w: %s is %d bytes, manifest records %d", ErrChecksumMismatch, imagePath, info.Size(), img.Size)
	}
	sum, err := imaging.MD5File(imagePath)
	if err != nil {
		return manifest, fmt.Errorf("checksum image: %w", err)
	}
	if sum != *img.Checksum {
		return manifest, fmt.Errorf("%w: %s has md5 %s, manifest records %s", ErrChecksumMismatch, imagePath, sum, *img.Checksum)
	}
	return manifest, nil
}

// Remove deletes an image together with its md5 file and manifest.
func Remove(imagePath string) error {
	var errs []error
	for _, path := range []string{imagePath, ChecksumPath(imagePath), ManifestPath(imagePath)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
