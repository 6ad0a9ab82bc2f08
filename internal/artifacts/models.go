package artifacts

import "time"

type ArtifactKind string

const (
	ImageArtifact    ArtifactKind = "image"    // ISO image
	ChecksumArtifact ArtifactKind = "checksum" // md5 file next to an image
	ManifestArtifact ArtifactKind = "manifest" // YAML manifest next to an image
)

type Artifact struct {
	Kind ArtifactKind `yaml:"kind"`
	URI  string       `yaml:"uri"`

	Checksum *string `yaml:"checksum,omitempty"`
	Size     int64   `yaml:"size,omitempty"`
}

// Manifest describes one produced image.
type Manifest struct {
	ID        string     `yaml:"id"`
	Spec      string     `yaml:"spec"`
	Strategy  string     `yaml:"strategy"`
	Title     string     `yaml:"title,omitempty"`
	Release   string     `yaml:"release,omitempty"`
	Arch      string     `yaml:"arch,omitempty"`
	Squashfs  string     `yaml:"squashfs,omitempty"`
	CreatedAt time.Time  `yaml:"created_at"`
	Artifacts []Artifact `yaml:"artifacts"`
	Contents  []string   `yaml:"contents,omitempty"`
}

// Image returns the image artifact, if any.
func (m Manifest) Image() (Artifact, bool) {
	for _, artifact := range m.Artifacts {
		if artifact.Kind == ImageArtifact {
			return artifact, true
		}
	}
	return Artifact{}, false
}
