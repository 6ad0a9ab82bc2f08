package livecd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cochaviz/isoforge/arch"
	"github.com/cochaviz/isoforge/internal/artifacts"
	"github.com/cochaviz/isoforge/internal/logging"
	"github.com/cochaviz/isoforge/internal/setup"
	"github.com/cochaviz/isoforge/internal/spec"
)

type resolver struct{}

func (resolver) Lookup(id string) (spec.Strategy, bool) {
	if id == ID {
		return New(), true
	}
	return nil, false
}

func writeFile(t *testing.T, path, content string, perm os.FileMode) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func newEnv(t *testing.T, metadata spec.Metadata) spec.StepEnv {
	t.Helper()
	settings := setup.Defaults()
	settings.TmpDir = t.TempDir()
	metadata[spec.StrategyKey] = New()
	return spec.StepEnv{
		SpecPath: "/specs/debian-live.spec",
		Metadata: metadata,
		Settings: settings,
		Logger:   logging.Discard(),
	}
}

func TestParseLivecdSpec(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chroot := filepath.Join(dir, "chroot")
	dest := filepath.Join(dir, "out")
	for _, d := range []string{chroot, dest} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	specPath := writeFile(t, filepath.Join(dir, "live.spec"), strings.Join([]string{
		"execution_strategy: livecd",
		"source_chroot: " + chroot,
		"destination_iso_directory: " + dest,
		"iso_title: Debian",
		"iso_title: Live",
		"arch: amd64",
		"paths_to_remove: /var/log/apt,",
		"    /root/.bash_history",
		"paths_to_empty: /var/cache/apt",
		"squashfs_iso_path: live/filesystem.squashfs",
		"generate_manifest: no",
		"inner_chroot_script: /does/not/exist.sh",
	}, "\n"), 0o644)

	got, err := spec.NewParser(resolver{}).Parse(context.Background(), specPath)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.String(ISOTitle) != "Debian Live" {
		t.Fatalf("iso_title = %q, want %q", got.String(ISOTitle), "Debian Live")
	}
	if diff := cmp.Diff([]string{"/var/log/apt", "/root/.bash_history"}, got.Strings(PathsToRemove)); diff != "" {
		t.Fatalf("paths_to_remove mismatch (-want +got):\n%s", diff)
	}
	if got.BoolOr(GenerateManifest, true) {
		t.Fatalf("generate_manifest = true, want false")
	}
	// relative squashfs paths and missing scripts are rejected by their verifiers
	for _, key := range []string{SquashfsISOPath, InnerChrootScript} {
		if got.Has(key) {
			t.Fatalf("Parse() kept invalid %s = %v", key, got[key])
		}
	}
}

func TestParseLivecdSpecMissingChroot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	specPath := writeFile(t, filepath.Join(dir, "live.spec"),
		"execution_strategy: livecd\nsource_chroot: "+filepath.Join(dir, "missing")+"\ndestination_iso_directory: "+dir+"\n", 0o644)

	_, err := spec.NewParser(resolver{}).Parse(context.Background(), specPath)
	if err == nil || !strings.Contains(err.Error(), SourceChroot) {
		t.Fatalf("Parse() error = %v, want missing %s", err, SourceChroot)
	}
}

func TestImageName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		metadata spec.Metadata
		want     string
	}{
		{name: "explicit", metadata: spec.Metadata{ImageName: "custom.iso", ISOTitle: "x"}, want: "custom.iso"},
		{name: "title and release", metadata: spec.Metadata{ISOTitle: "Debian Live", ReleaseVersion: "12.5"}, want: "Debian_Live_12.5.iso"},
		{name: "chroot name", metadata: spec.Metadata{SourceChroot: "/srv/chroots/bookworm"}, want: "bookworm.iso"},
	}
	for _, tt := range tests {
		if got := imageName(tt.metadata); got != tt.want {
			t.Errorf("%s: imageName() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestPrechroot(t *testing.T) {
	t.Parallel()

	explicit := spec.Metadata{Prechroot: []string{"setarch", "i686"}, Arch: "i686"}
	if diff := cmp.Diff([]string{"setarch", "i686"}, prechroot(explicit)); diff != "" {
		t.Fatalf("prechroot(explicit) mismatch (-want +got):\n%s", diff)
	}

	derived := spec.Metadata{Arch: "i386"}
	want := arch.Personality(arch.Host(), arch.I686)
	if diff := cmp.Diff(want, prechroot(derived)); diff != "" {
		t.Fatalf("prechroot(arch) mismatch (-want +got):\n%s", diff)
	}

	if got := prechroot(spec.Metadata{}); got != nil {
		t.Fatalf("prechroot(empty) = %v, want nil", got)
	}
}

func TestChrootStepsCopyAndCustomise(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "chroot")
	writeFile(t, filepath.Join(source, "etc", "hostname"), "live\n", 0o644)
	writeFile(t, filepath.Join(source, "var", "log", "apt", "history.log"), "x", 0o644)
	writeFile(t, filepath.Join(source, "var", "cache", "apt", "pkgcache.bin"), "x", 0o644)
	outer := writeFile(t, filepath.Join(dir, "outer.sh"), "#!/bin/sh\necho \"$ISOFORGE_SPEC $SQUASHFS_ISO_PATH\" > \"$CHROOT/outer-ran\"\n", 0o755)

	metadata := spec.Metadata{
		SourceChroot:      source,
		OuterChrootScript: []string{outer},
		PathsToRemove:     []string{"/var/log/apt"},
		PathsToEmpty:      []string{"/var/cache/apt"},
		SquashfsISOPath:   "/live/Filesystem.Root.squashfs",
	}
	env := newEnv(t, metadata)
	ctx := context.Background()

	copyStep := newChrootCopyStep(env)
	for _, hook := range []func(context.Context) (int, error){copyStep.Setup, copyStep.PreRun, copyStep.Run, copyStep.PostRun} {
		if status, err := hook(ctx); status != 0 || err != nil {
			t.Fatalf("chroot-copy hook = (%d, %v)", status, err)
		}
	}
	if err := copyStep.Kill(ctx, true); err != nil {
		t.Fatalf("chroot-copy Kill() error = %v", err)
	}

	work := metadata.String(workChrootKey)
	if !strings.HasPrefix(work, env.Settings.TmpDir) {
		t.Fatalf("work chroot %q is not under %s", work, env.Settings.TmpDir)
	}

	scripts := newChrootScriptsStep(env)
	for _, hook := range []func(context.Context) (int, error){scripts.Setup, scripts.PreRun, scripts.Run, scripts.PostRun} {
		if status, err := hook(ctx); status != 0 || err != nil {
			t.Fatalf("chroot-scripts hook = (%d, %v)", status, err)
		}
	}
	if err := scripts.Kill(ctx, true); err != nil {
		t.Fatalf("chroot-scripts Kill() error = %v", err)
	}

	marker, err := os.ReadFile(filepath.Join(work, "outer-ran"))
	if err != nil || strings.TrimSpace(string(marker)) != "debian-live.spec /live/filesystem_root.squashfs" {
		t.Fatalf("outer script marker = (%q, %v)", marker, err)
	}
	if _, err := os.Stat(filepath.Join(work, "var", "log", "apt")); !os.IsNotExist(err) {
		t.Fatalf("paths_to_remove left /var/log/apt: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(work, "var", "cache", "apt"))
	if err != nil || len(entries) != 0 {
		t.Fatalf("paths_to_empty left %d entries (%v)", len(entries), err)
	}
	if _, err := os.Stat(filepath.Join(source, "var", "log", "apt")); err != nil {
		t.Fatalf("source chroot was modified: %v", err)
	}
}

func TestFailedStepRunsErrorScriptAndCleansUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source := filepath.Join(dir, "chroot")
	writeFile(t, filepath.Join(source, "etc", "hostname"), "live\n", 0o644)
	markerPath := filepath.Join(dir, "error-ran")
	errorScript := writeFile(t, filepath.Join(dir, "error.sh"), "#!/bin/sh\ntouch "+markerPath+"\n", 0o755)
	failing := writeFile(t, filepath.Join(dir, "fail.sh"), "#!/bin/sh\nexit 7\n", 0o755)

	metadata := spec.Metadata{
		SourceChroot:      source,
		ErrorScript:       []string{errorScript},
		OuterChrootScript: []string{failing},
	}
	env := newEnv(t, metadata)
	ctx := context.Background()

	copyStep := newChrootCopyStep(env)
	if _, err := copyStep.Setup(ctx); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := copyStep.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	work := metadata.String(workChrootKey)

	scripts := newChrootScriptsStep(env)
	status, err := scripts.PreRun(ctx)
	if err != nil || status != 7 {
		t.Fatalf("PreRun() = (%d, %v), want (7, nil)", status, err)
	}
	if err := scripts.Kill(ctx, false); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	if _, err := os.Stat(markerPath); err != nil {
		t.Fatalf("error script did not run: %v", err)
	}
	if _, err := os.Stat(work); !os.IsNotExist(err) {
		t.Fatalf("work chroot %s still present: %v", work, err)
	}
	if metadata.Has(workChrootKey) {
		t.Fatalf("metadata still references the work chroot")
	}
}

func TestISOImageStepWritesImage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tree := filepath.Join(dir, "cdroot")
	writeFile(t, filepath.Join(tree, "livecd.squashfs"), "squash", 0o644)
	writeFile(t, filepath.Join(tree, "boot", "grub", "grub.cfg"), "menuentry {}\n", 0o644)
	dest := filepath.Join(dir, "out")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	metadata := spec.Metadata{
		DestinationISODir: dest,
		ISOTitle:          "Debian Live",
		ReleaseVersion:    "12",
		isoTreeKey:        tree,
	}
	env := newEnv(t, metadata)
	ctx := context.Background()

	imageStep := newISOImageStep(env)
	if status, err := imageStep.Run(ctx); status != 0 || err != nil {
		t.Fatalf("Run() = (%d, %v)", status, err)
	}
	if status, err := imageStep.PostRun(ctx); status != 0 || err != nil {
		t.Fatalf("PostRun() = (%d, %v)", status, err)
	}
	if err := imageStep.Kill(ctx, true); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	image := filepath.Join(dest, "Debian_Live_12.iso")
	manifest, err := artifacts.ReadManifest(artifacts.ManifestPath(image))
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	want := []string{"boot/grub/grub.cfg", "livecd.squashfs"}
	if diff := cmp.Diff(want, manifest.Contents); diff != "" {
		t.Fatalf("contents mismatch (-want +got):\n%s", diff)
	}
	if manifest.Strategy != ID || manifest.Title != "Debian Live" || manifest.Squashfs != "/livecd.squashfs" {
		t.Fatalf("manifest = %+v", manifest)
	}
	if _, err := os.Stat(artifacts.ChecksumPath(image)); err != nil {
		t.Fatalf("checksum missing: %v", err)
	}
	if _, err := os.Stat(tree); !os.IsNotExist(err) {
		t.Fatalf("iso tree scratch still present: %v", err)
	}
}

func TestISOImageStepFailureRemovesImage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tree := filepath.Join(dir, "cdroot")
	writeFile(t, filepath.Join(tree, "livecd.squashfs"), "squash", 0o644)

	metadata := spec.Metadata{
		DestinationISODir: dir,
		ImageName:         "broken.iso",
		isoTreeKey:        tree,
	}
	env := newEnv(t, metadata)
	ctx := context.Background()

	imageStep := newISOImageStep(env)
	if _, err := imageStep.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := imageStep.Kill(ctx, false); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "broken.iso")); !os.IsNotExist(err) {
		t.Fatalf("partial image still present: %v", err)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	attrs := New().Describe(spec.Metadata{
		SourceChroot:      "/srv/chroot",
		DestinationISODir: "/srv/iso",
		ISOTitle:          "Live",
		Arch:              "amd64",
	})
	got := map[string]string{}
	for _, attr := range attrs {
		got[attr.Key] = attr.Value.String()
	}
	want := map[string]string{
		"source_chroot": "/srv/chroot",
		"destination":   "/srv/iso/Live.iso",
		"title":         "Live",
		"arch":          "x86_64",
		"squashfs":      "/livecd.squashfs",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Describe() mismatch (-want +got):\n%s", diff)
	}
}
