// Package imaging copies filesystem trees and assembles ISO 9660 images.
package imaging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// CopyTree mirrors srcDir into dstDir. Modes, symlinks, device and fifo
// nodes are preserved; ownership is copied when the process may chown.
func CopyTree(srcDir, dstDir string) error {
	srcAbs, err := filepath.Abs(srcDir)
	if err != nil {
		return fmt.Errorf("resolve source %q: %w", srcDir, err)
	}
	info, err := os.Stat(srcAbs)
	if err != nil {
		return fmt.Errorf("stat source %q: %w", srcAbs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %q is not a directory", srcAbs)
	}

	chown := unix.Geteuid() == 0
	var dirs []string

	err = filepath.WalkDir(srcAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcAbs, path)
		if err != nil {
			return err
		}
		targetPath := filepath.Join(dstDir, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode()

		switch {
		case mode.IsDir():
			// Written with owner access so children can be created; the real
			// mode is restored once the walk is done.
			if err := os.MkdirAll(targetPath, mode.Perm()|0o700); err != nil {
				return err
			}
			dirs = append(dirs, rel)
		case mode&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Symlink(link, targetPath); err != nil {
				return err
			}
		case mode.IsRegular():
			if err := copyFile(path, targetPath, mode.Perm()); err != nil {
				return err
			}
		case mode&(os.ModeDevice|os.ModeCharDevice|os.ModeNamedPipe) != 0:
			if err := makeNode(targetPath, info); err != nil {
				return err
			}
		default:
			// sockets are runtime state and are not copied
			return nil
		}

		if chown {
			if err := copyOwner(targetPath, info); err != nil {
				return err
			}
		}
		if mode&os.ModeSymlink == 0 && !mode.IsDir() {
			return os.Chmod(targetPath, fileMode(mode))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", srcAbs, dstDir, err)
	}

	// deepest first, so a read-only parent does not block its children
	for i := len(dirs) - 1; i >= 0; i-- {
		srcInfo, err := os.Lstat(filepath.Join(srcAbs, dirs[i]))
		if err != nil {
			return err
		}
		if err := os.Chmod(filepath.Join(dstDir, dirs[i]), fileMode(srcInfo.Mode())); err != nil {
			return err
		}
	}
	return nil
}

// EmptyDir removes everything inside dir, keeping dir itself.
func EmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Within joins rel onto root, treating rel as rooted at root so ".."
// cannot climb out. A rel naming root itself is rejected.
func Within(root, rel string) (string, error) {
	clean := filepath.Clean("/" + rel)
	if clean == "/" {
		return "", fmt.Errorf("path %q names the root of %s", rel, root)
	}
	return filepath.Join(root, clean), nil
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o200)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func makeNode(path string, info fs.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("no device information for %s", path)
	}
	return unix.Mknod(path, stat.Mode, int(stat.Rdev))
}

func copyOwner(path string, info fs.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	return unix.Lchown(path, int(stat.Uid), int(stat.Gid))
}

// fileMode converts an fs.FileMode into chmod bits, keeping setuid, setgid
// and sticky.
func fileMode(mode fs.FileMode) fs.FileMode {
	out := mode.Perm()
	if mode&os.ModeSetuid != 0 {
		out |= os.ModeSetuid
	}
	if mode&os.ModeSetgid != 0 {
		out |= os.ModeSetgid
	}
	if mode&os.ModeSticky != 0 {
		out |= os.ModeSticky
	}
	return out
}
