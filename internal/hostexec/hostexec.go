// Package hostexec runs host commands for build steps: plain invocations,
// commands inside a chroot, and cleanup of processes left behind in one.
package hostexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Command describes one invocation. Stdout and Stderr default to the
// process streams; Env nil inherits the process environment.
type Command struct {
	Args   []string
	Env    []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes cmd and returns its exit status. A command that ran and
// exited non-zero yields (status, nil); failures to start it yield an error.
func Run(ctx context.Context, cmd Command) (int, error) {
	if len(cmd.Args) == 0 {
		return 0, errors.New("no command provided")
	}

	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Env = cmd.Env
	c.Dir = cmd.Dir
	c.Stdout = cmd.Stdout
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	c.Stderr = cmd.Stderr
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	c.WaitDelay = 10 * time.Second

	err := c.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 1, ctxErr
		}
		if code := exitErr.ExitCode(); code > 0 {
			return code, nil
		}
		return 1, nil
	}
	return 1, fmt.Errorf("run %s: %w", cmd.Args[0], err)
}

// Chroot executes args inside root, optionally wrapped by prechroot
// (for example a setarch personality such as linux32).
func Chroot(ctx context.Context, root string, args, prechroot, env []string) (int, error) {
	full := make([]string, 0, len(prechroot)+2+len(args))
	full = append(full, prechroot...)
	full = append(full, "chroot", root)
	full = append(full, args...)
	return Run(ctx, Command{Args: full, Env: env})
}

// CommandAvailable reports whether name resolves to an executable in PATH.
func CommandAvailable(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsRune(name, filepath.Separator) {
		return IsExecutableFile(name)
	}
	_, err := exec.LookPath(name)
	return err == nil
}

// IsExecutableFile reports whether path is a regular file with any execute bit set.
func IsExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// IsSuperUser reports whether the process runs with effective uid 0.
func IsSuperUser() bool {
	return unix.Geteuid() == 0
}

// ChrootProcesses lists pids whose root directory or working directory
// lies inside root.
func ChrootProcesses(root string) ([]int, error) {
	return chrootProcesses("/proc", root)
}

func chrootProcesses(procDir, root string) ([]int, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	entries, err := os.ReadDir(procDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", procDir, err)
	}

	self := os.Getpid()
	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}
		for _, link := range []string{"root", "cwd"} {
			target, err := os.Readlink(filepath.Join(procDir, entry.Name(), link))
			if err != nil {
				continue
			}
			if target == root || strings.HasPrefix(target, root+string(filepath.Separator)) {
				pids = append(pids, pid)
				break
			}
		}
	}
	return pids, nil
}

// KillChrootProcesses signals every process living inside root and repeats
// until none are left or the context ends.
func KillChrootProcesses(ctx context.Context, logger *slog.Logger, root string, sig syscall.Signal) error {
	for {
		pids, err := ChrootProcesses(root)
		if err != nil {
			return err
		}
		if len(pids) == 0 {
			return nil
		}

		var killErr error
		for _, pid := range pids {
			if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
				killErr = errors.Join(killErr, fmt.Errorf("kill %d: %w", pid, err))
			}
		}
		if logger != nil {
			logger.Warn("signalled stale chroot processes", "root", root, "signal", sig.String(), "pids", len(pids))
		}
		if killErr != nil {
			return killErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
