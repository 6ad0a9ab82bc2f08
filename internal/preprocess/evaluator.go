package preprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// DefaultOutputLimit caps the captured output of a single evaluated token.
const DefaultOutputLimit = 1024

// An Evaluator turns one %env token into its expanded text.
type Evaluator interface {
	Evaluate(ctx context.Context, token string) (string, error)
}

// ShellEvaluator evaluates a token as a double-quoted shell word, so ${VAR}
// references are substituted and $(...) command substitutions are executed.
// Executing embedded commands is intended: spec files are trusted input.
type ShellEvaluator struct {
	Shell string   // defaults to $SHELL, then /bin/sh
	Env   []string // nil inherits the process environment
	Limit int      // bytes of output kept; defaults to DefaultOutputLimit
}

// Evaluate runs the shell and returns at most Limit bytes of its output.
func (e ShellEvaluator) Evaluate(ctx context.Context, token string) (string, error) {
	if strings.ContainsRune(token, 0) {
		return "", fmt.Errorf("argument %q contains a NUL byte", token)
	}

	limit := e.Limit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}

	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}

	cmd := exec.CommandContext(ctx, e.shell(), "-c", `printf '%s' "`+token+`"`)
	cmd.Env = e.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg := strings.TrimSpace(stderr.buf.String()); msg != "" {
				return "", fmt.Errorf("error while parsing argument %q: exit status %d: %s", token, exitErr.ExitCode(), msg)
			}
			return "", fmt.Errorf("error while parsing argument %q: exit status %d", token, exitErr.ExitCode())
		}
		return "", fmt.Errorf("error while parsing argument %q: %w", token, err)
	}

	out := stdout.buf.Bytes()
	if len(out) == 0 {
		return "", fmt.Errorf("error while parsing argument %q: evaluated to an empty string", token)
	}
	if !utf8.Valid(out) {
		return "", fmt.Errorf("error while parsing argument %q: output is not valid UTF-8", token)
	}
	return string(out), nil
}

func (e ShellEvaluator) shell() string {
	if e.Shell != "" {
		return e.Shell
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

// cappedBuffer keeps the first limit bytes and silently discards the rest so
// the child never blocks on a full pipe.
type cappedBuffer struct {
	limit int
	buf   bytes.Buffer
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}
