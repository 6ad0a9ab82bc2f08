// Package livecd builds a live ISO image from a prepared chroot: the chroot
// is copied to scratch space, customised by scripts, squashed and wrapped
// into an ISO 9660 image.
package livecd

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cochaviz/isoforge/arch"
	"github.com/cochaviz/isoforge/internal/imaging"
	"github.com/cochaviz/isoforge/internal/spec"
)

// ID is the execution_strategy value handled by this package.
const ID = "livecd"

// Parameter names.
const (
	SourceChroot           = "source_chroot"
	DestinationISODir      = "destination_iso_directory"
	Prechroot              = "prechroot"
	Arch                   = "arch"
	OuterChrootScript      = "outer_chroot_script"
	InnerChrootScript      = "inner_chroot_script"
	InnerChrootScriptAfter = "inner_chroot_script_after"
	OuterChrootScriptAfter = "outer_chroot_script_after"
	ErrorScript            = "error_script"
	PathsToRemove          = "paths_to_remove"
	PathsToEmpty           = "paths_to_empty"
	ISOTreeDirectory       = "iso_tree_directory"
	ImageName              = "destination_iso_image_name"
	ISOTitle               = "iso_title"
	ReleaseVersion         = "release_version"
	SquashfsISOPath        = "squashfs_iso_path"
	ExtraMksquashfsParams  = "extra_mksquashfs_parameters"
	GenerateManifest       = "generate_manifest"
)

// DefaultSquashfsISOPath is where the squashed chroot lands in the image.
const DefaultSquashfsISOPath = "/livecd.squashfs"

// Runtime entries shared by the steps of one run.
const (
	workChrootKey = "__livecd_work_chroot__"
	isoTreeKey    = "__livecd_iso_tree__"
	imagePathKey  = "__livecd_image_path__"
)

// Strategy implements spec.Strategy for live ISO builds.
type Strategy struct{}

// New returns the livecd strategy.
func New() Strategy {
	return Strategy{}
}

func (Strategy) ID() string { return ID }

func (Strategy) VitalParameters() []string {
	return []string{SourceChroot, DestinationISODir}
}

func (Strategy) RequireSuperUser() bool { return true }

func (Strategy) Parameters() spec.Schema {
	script := spec.Parameter{Parse: spec.AsCommand, Verify: spec.ExecutableCommand}
	text := spec.Parameter{Parse: spec.AsString, Verify: spec.NonEmpty}
	paths := spec.Parameter{Parse: spec.AsPathList, Verify: spec.NonEmpty}
	dir := spec.Parameter{Parse: spec.AsString, Verify: spec.IsDir}

	return spec.Schema{
		SourceChroot:           dir,
		DestinationISODir:      dir,
		Prechroot:              {Parse: spec.AsCommand, Verify: spec.CommandAvailable},
		Arch:                   {Parse: spec.AsString, Verify: validArch},
		OuterChrootScript:      script,
		InnerChrootScript:      script,
		InnerChrootScriptAfter: script,
		OuterChrootScriptAfter: script,
		ErrorScript:            script,
		PathsToRemove:          paths,
		PathsToEmpty:           paths,
		ISOTreeDirectory:       dir,
		ImageName:              {Parse: spec.AsString, Verify: validImageName},
		ISOTitle:               text,
		ReleaseVersion:         text,
		SquashfsISOPath:        {Parse: spec.AsString, Verify: spec.All(spec.IsAbsPath, validISOFile)},
		ExtraMksquashfsParams:  {Parse: spec.AsCommand, Verify: spec.NonEmpty},
		GenerateManifest:       {Parse: spec.AsBoolean},
	}
}

func (Strategy) ExecutionSteps() []spec.StepFactory {
	return []spec.StepFactory{
		{Name: "chroot-copy", New: newChrootCopyStep},
		{Name: "chroot-scripts", New: newChrootScriptsStep},
		{Name: "iso-image", New: newISOImageStep},
	}
}

func (Strategy) Describe(m spec.Metadata) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("source_chroot", m.String(SourceChroot)),
		slog.String("destination", filepath.Join(m.String(DestinationISODir), imageName(m))),
	}
	if title := m.String(ISOTitle); title != "" {
		attrs = append(attrs, slog.String("title", title))
	}
	if release := m.String(ReleaseVersion); release != "" {
		attrs = append(attrs, slog.String("release", release))
	}
	if target := m.String(Arch); target != "" {
		attrs = append(attrs, slog.String("arch", arch.Normalize(target).String()))
	}
	attrs = append(attrs, slog.String("squashfs", squashfsISOPath(m)))
	return attrs
}

func validArch(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	_, err := arch.Parse(s)
	return err == nil
}

func validImageName(value any) bool {
	s, ok := value.(string)
	return ok && s != "" && !strings.ContainsRune(s, '/') && s != "." && s != ".."
}

func validISOFile(value any) bool {
	s, _ := value.(string)
	return filepath.Base(s) != "/"
}

// imageName is the ISO file name: the configured one, or the spec title
// and release, falling back to the source chroot name.
func imageName(m spec.Metadata) string {
	if name := m.String(ImageName); name != "" {
		return name
	}
	parts := []string{}
	for _, part := range []string{m.String(ISOTitle), m.String(ReleaseVersion)} {
		if part != "" {
			parts = append(parts, strings.ReplaceAll(part, " ", "_"))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, filepath.Base(m.String(SourceChroot)))
	}
	return strings.ReplaceAll(strings.Join(parts, "_"), "/", "_") + ".iso"
}

// squashfsISOPath is the name boot configuration must use for the squashed
// chroot once the ISO writer has mangled squashfs_iso_path.
func squashfsISOPath(m spec.Metadata) string {
	return imaging.ISOPath(m.StringOr(SquashfsISOPath, DefaultSquashfsISOPath))
}

// prechroot returns the wrapper for chroot invocations: the configured
// command, or the personality needed for a foreign target architecture.
func prechroot(m spec.Metadata) []string {
	if args := m.Strings(Prechroot); len(args) > 0 {
		return args
	}
	if target := m.String(Arch); target != "" {
		return arch.Personality(arch.Host(), arch.Normalize(target))
	}
	return nil
}
