package livecd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/cochaviz/isoforge/internal/artifacts"
	"github.com/cochaviz/isoforge/internal/hostexec"
	"github.com/cochaviz/isoforge/internal/imaging"
	"github.com/cochaviz/isoforge/internal/spec"
)

// Environment variables handed to outer and error scripts.
const (
	chrootEnv    = "CHROOT"
	isoTreeEnv   = "CDROOT"
	imagePathEnv = "ISO_PATH"
	squashfsEnv  = "SQUASHFS_ISO_PATH"
	specNameEnv  = "ISOFORGE_SPEC"
)

// step carries what every livecd step shares: the runtime entries stored in
// metadata and the failure cleanup.
type step struct {
	spec.BaseStep
}

func (s *step) metadata() spec.Metadata { return s.Env.Metadata }

func (s *step) workChroot() string { return s.metadata().String(workChrootKey) }

func (s *step) isoTree() string { return s.metadata().String(isoTreeKey) }

func (s *step) scriptEnv() []string {
	env := append(os.Environ(),
		specNameEnv+"="+s.Env.SpecName(),
		squashfsEnv+"="+squashfsISOPath(s.metadata()),
	)
	if dir := s.workChroot(); dir != "" {
		env = append(env, chrootEnv+"="+dir)
	}
	if dir := s.isoTree(); dir != "" {
		env = append(env, isoTreeEnv+"="+dir)
	}
	if image := s.metadata().String(imagePathKey); image != "" {
		env = append(env, imagePathEnv+"="+image)
	}
	return env
}

// runHostScript runs an outer script; a missing script is a no-op.
func (s *step) runHostScript(ctx context.Context, key string) (int, error) {
	args := s.metadata().Strings(key)
	if len(args) == 0 {
		return 0, nil
	}
	s.Logger().Info("running outer script", "parameter", key, "script", args[0])
	status, err := hostexec.Run(ctx, hostexec.Command{Args: args, Env: s.scriptEnv()})
	if err != nil {
		return status, fmt.Errorf("%s: %w", key, err)
	}
	if status != 0 {
		s.Logger().Error("outer script failed", "parameter", key, "status", status)
	}
	return status, nil
}

// cleanup releases scratch space. On failure the error script runs first,
// stray chroot processes are terminated and a partial image is removed.
func (s *step) cleanup(ctx context.Context, success bool) error {
	var errs []error
	if !success {
		if _, err := s.runHostScript(ctx, ErrorScript); err != nil {
			errs = append(errs, err)
		}
		if dir := s.workChroot(); dir != "" {
			if err := hostexec.KillChrootProcesses(ctx, s.Logger(), dir, syscall.SIGKILL); err != nil {
				errs = append(errs, err)
			}
		}
		if image := s.metadata().String(imagePathKey); image != "" {
			s.Logger().Warn("removing partial image", "image", image)
			if err := artifacts.Remove(image); err != nil {
				errs = append(errs, err)
			}
			delete(s.metadata(), imagePathKey)
		}
	}
	for _, key := range []string{workChrootKey, isoTreeKey} {
		dir := s.metadata().String(key)
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove scratch %s: %w", dir, err))
			continue
		}
		delete(s.metadata(), key)
	}
	return errors.Join(errs...)
}

// chrootCopyStep copies source_chroot into a scratch directory.
type chrootCopyStep struct {
	step
}

func newChrootCopyStep(env spec.StepEnv) spec.Step {
	return &chrootCopyStep{step{spec.BaseStep{Env: env}}}
}

func (s *chrootCopyStep) Setup(context.Context) (int, error) {
	dir, err := s.Env.Settings.MkdirTemp("-chroot")
	if err != nil {
		return 0, err
	}
	s.metadata()[workChrootKey] = dir
	return 0, nil
}

func (s *chrootCopyStep) Run(context.Context) (int, error) {
	src := s.metadata().String(SourceChroot)
	s.Logger().Info("copying chroot", "source", src, "destination", s.workChroot())
	if err := imaging.CopyTree(src, s.workChroot()); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *chrootCopyStep) Kill(ctx context.Context, success bool) error {
	if success {
		return nil
	}
	return s.cleanup(ctx, false)
}

// chrootScriptsStep customises the scratch chroot.
type chrootScriptsStep struct {
	step
	prechroot []string
}

func newChrootScriptsStep(env spec.StepEnv) spec.Step {
	return &chrootScriptsStep{step: step{spec.BaseStep{Env: env}}, prechroot: prechroot(env.Metadata)}
}

func (s *chrootScriptsStep) Setup(context.Context) (int, error) {
	if s.workChroot() == "" {
		return 0, errors.New("no work chroot, chroot-copy did not run")
	}
	return 0, nil
}

func (s *chrootScriptsStep) PreRun(ctx context.Context) (int, error) {
	return s.runHostScript(ctx, OuterChrootScript)
}

func (s *chrootScriptsStep) Run(ctx context.Context) (int, error) {
	if status, err := s.runInnerScript(ctx, InnerChrootScript); status != 0 || err != nil {
		return status, err
	}
	if err := s.prunePaths(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *chrootScriptsStep) PostRun(ctx context.Context) (int, error) {
	if status, err := s.runInnerScript(ctx, InnerChrootScriptAfter); status != 0 || err != nil {
		return status, err
	}
	return s.runHostScript(ctx, OuterChrootScriptAfter)
}

func (s *chrootScriptsStep) Kill(ctx context.Context, success bool) error {
	// scripts may leave daemons behind even when they succeed
	var errs []error
	if dir := s.workChroot(); dir != "" {
		if err := hostexec.KillChrootProcesses(ctx, s.Logger(), dir, syscall.SIGTERM); err != nil {
			errs = append(errs, err)
		}
	}
	if !success {
		errs = append(errs, s.cleanup(ctx, false))
	}
	return errors.Join(errs...)
}

// runInnerScript copies a host script into the chroot and executes it there.
func (s *chrootScriptsStep) runInnerScript(ctx context.Context, key string) (int, error) {
	args := s.metadata().Strings(key)
	if len(args) == 0 {
		return 0, nil
	}

	inside := path.Join("/tmp", "isoforge-"+filepath.Base(args[0]))
	target, err := imaging.Within(s.workChroot(), inside)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if err := os.WriteFile(target, content, 0o755); err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	defer os.Remove(target)

	s.Logger().Info("running inner script", "parameter", key, "script", args[0])
	command := append([]string{inside}, args[1:]...)
	status, err := hostexec.Chroot(ctx, s.workChroot(), command, s.prechroot, nil)
	if err != nil {
		return status, fmt.Errorf("%s: %w", key, err)
	}
	if status != 0 {
		s.Logger().Error("inner script failed", "parameter", key, "status", status)
	}
	return status, nil
}

func (s *chrootScriptsStep) prunePaths() error {
	root := s.workChroot()
	for _, rel := range s.metadata().Strings(PathsToRemove) {
		target, err := imaging.Within(root, rel)
		if err != nil {
			return fmt.Errorf("%s: %w", PathsToRemove, err)
		}
		s.Logger().Debug("removing path", "path", rel)
		if err := os.RemoveAll(target); err != nil {
			return err
		}
	}
	for _, rel := range s.metadata().Strings(PathsToEmpty) {
		target, err := imaging.Within(root, rel)
		if err != nil {
			return fmt.Errorf("%s: %w", PathsToEmpty, err)
		}
		s.Logger().Debug("emptying path", "path", rel)
		if err := imaging.EmptyDir(target); err != nil {
			return err
		}
	}
	return nil
}

// isoImageStep squashes the chroot and writes the ISO image.
type isoImageStep struct {
	step
}

func newISOImageStep(env spec.StepEnv) spec.Step {
	return &isoImageStep{step{spec.BaseStep{Env: env}}}
}

func (s *isoImageStep) Setup(context.Context) (int, error) {
	if s.workChroot() == "" {
		return 0, errors.New("no work chroot, chroot-copy did not run")
	}
	if !hostexec.CommandAvailable("mksquashfs") {
		s.Logger().Error("mksquashfs is not available in PATH")
		return 1, nil
	}

	dir, err := s.Env.Settings.MkdirTemp("-cdroot")
	if err != nil {
		return 0, err
	}
	s.metadata()[isoTreeKey] = dir

	if tree := s.metadata().String(ISOTreeDirectory); tree != "" {
		s.Logger().Info("merging iso tree", "source", tree)
		if err := imaging.CopyTree(tree, dir); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func (s *isoImageStep) PreRun(ctx context.Context) (int, error) {
	target, err := imaging.Within(s.isoTree(), s.metadata().StringOr(SquashfsISOPath, DefaultSquashfsISOPath))
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	args := append([]string{"mksquashfs", s.workChroot(), target, "-noappend"}, s.metadata().Strings(ExtraMksquashfsParams)...)
	s.Logger().Info("squashing chroot", "target", target, "iso_path", squashfsISOPath(s.metadata()))
	return hostexec.Run(ctx, hostexec.Command{Args: args})
}

func (s *isoImageStep) Run(context.Context) (int, error) {
	image := filepath.Join(s.metadata().String(DestinationISODir), imageName(s.metadata()))
	s.metadata()[imagePathKey] = image

	label := imaging.SanitizeVolumeLabel(s.metadata().String(ISOTitle), s.metadata().String(ReleaseVersion))
	s.Logger().Info("writing iso image", "image", image, "label", label)
	if err := imaging.WriteISO(image, label, imaging.Entry{Source: s.isoTree(), Target: "/"}); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *isoImageStep) PostRun(context.Context) (int, error) {
	image := s.metadata().String(imagePathKey)
	manifest, err := artifacts.Publish(artifacts.PublishRequest{
		ImagePath:     image,
		Spec:          s.Env.SpecPath,
		Strategy:      ID,
		Title:         s.metadata().String(ISOTitle),
		Release:       s.metadata().String(ReleaseVersion),
		Arch:          s.metadata().String(Arch),
		Squashfs:      squashfsISOPath(s.metadata()),
		WriteManifest: s.metadata().BoolOr(GenerateManifest, true),
	})
	if err != nil {
		return 0, err
	}
	if img, ok := manifest.Image(); ok {
		s.Logger().Info("image ready", "image", image, "md5", *img.Checksum, "size", img.Size, "build_id", manifest.ID)
	}
	return 0, nil
}

func (s *isoImageStep) Kill(ctx context.Context, success bool) error {
	if success {
		// the image stays; only scratch space goes
		delete(s.metadata(), imagePathKey)
	}
	return s.cleanup(ctx, success)
}
