package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cochaviz/isoforge/internal/artifacts"
	"github.com/cochaviz/isoforge/internal/imaging"
	"github.com/cochaviz/isoforge/internal/logging"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	config := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(config, []byte("tmp_dir: "+t.TempDir()+"\nlog_level: error\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var levelVar slog.LevelVar
	a := &app{levelVar: &levelVar, logger: logging.Discard()}
	root := newRootCommand(a)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStrategiesCommandListsBuiltins(t *testing.T) {
	out, err := runCommand(t, "strategies")
	if err != nil {
		t.Fatalf("strategies error = %v", err)
	}
	if !strings.Contains(out, "boottest\n") || !strings.Contains(out, "livecd (requires root)\n") {
		t.Fatalf("strategies output = %q", out)
	}
}

func TestExpandCommandPrintsImportedLines(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "common.spec"), []byte("title: Shared\n"), 0o644); err != nil {
		t.Fatalf("write common: %v", err)
	}
	root := filepath.Join(dir, "root.spec")
	if err := os.WriteFile(root, []byte("execution_strategy: livecd\n%import common.spec\n"), 0o644); err != nil {
		t.Fatalf("write root: %v", err)
	}

	out, err := runCommand(t, "expand", root)
	if err != nil {
		t.Fatalf("expand error = %v", err)
	}
	if want := "execution_strategy: livecd\ntitle: Shared\n"; out != want {
		t.Fatalf("expand output = %q, want %q", out, want)
	}
}

func TestCheckCommandRejectsUnknownStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.spec")
	if err := os.WriteFile(path, []byte("execution_strategy: remaster\n"), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	if _, err := runCommand(t, "check", path); err == nil {
		t.Fatalf("check accepted an unsupported strategy")
	}
}

func TestCheckCommandPrintsParameters(t *testing.T) {
	dir := t.TempDir()
	chroot := filepath.Join(dir, "chroot")
	if err := os.Mkdir(chroot, 0o755); err != nil {
		t.Fatalf("mkdir chroot: %v", err)
	}
	path := filepath.Join(dir, "live.spec")
	content := "execution_strategy: livecd\nsource_chroot: " + chroot + "\ndestination_iso_directory: " + dir + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	out, err := runCommand(t, "check", path)
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	if !strings.Contains(out, "source_chroot: "+chroot) {
		t.Fatalf("check output = %q", out)
	}
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	if err := os.MkdirAll(tree, 0o755); err != nil {
		t.Fatalf("mkdir tree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tree, "livecd.squashfs"), []byte("squash"), 0o644); err != nil {
		t.Fatalf("write squashfs: %v", err)
	}
	image := filepath.Join(dir, "live.iso")
	if err := imaging.WriteISO(image, "LIVE", imaging.Entry{Source: tree, Target: "/"}); err != nil {
		t.Fatalf("WriteISO() error = %v", err)
	}
	if _, err := artifacts.Publish(artifacts.PublishRequest{ImagePath: image, WriteManifest: true}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	out, err := runCommand(t, "verify", artifacts.ManifestPath(image))
	if err != nil {
		t.Fatalf("verify error = %v", err)
	}
	if !strings.Contains(out, "live.iso: OK") {
		t.Fatalf("verify output = %q", out)
	}

	if err := os.Truncate(image, 2048); err != nil {
		t.Fatalf("truncate image: %v", err)
	}
	if _, err := runCommand(t, "verify", artifacts.ManifestPath(image)); !errors.Is(err, artifacts.ErrChecksumMismatch) {
		t.Fatalf("verify error = %v, want ErrChecksumMismatch", err)
	}
}
