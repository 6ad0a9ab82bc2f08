package preprocess

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func shellEvaluator() ShellEvaluator {
	return ShellEvaluator{
		Shell: "/bin/sh",
		Env:   []string{"PATH=/usr/bin:/bin", "ISOFORGE_RELEASE=bookworm"},
	}
}

func TestShellEvaluatorSubstitutesVariables(t *testing.T) {
	t.Parallel()

	got, err := shellEvaluator().Evaluate(context.Background(), "release-${ISOFORGE_RELEASE}")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != "release-bookworm" {
		t.Fatalf("Evaluate() = %q, want %q", got, "release-bookworm")
	}
}

func TestShellEvaluatorRunsCommandSubstitution(t *testing.T) {
	t.Parallel()

	got, err := shellEvaluator().Evaluate(context.Background(), "$(echo generated)")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != "generated" {
		t.Fatalf("Evaluate() = %q, want %q", got, "generated")
	}
}

func TestShellEvaluatorCapsOutput(t *testing.T) {
	t.Parallel()

	got, err := shellEvaluator().Evaluate(context.Background(), "$(i=0; while [ $i -lt 300 ]; do printf abcdefgh; i=$((i+1)); done)")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(got) != DefaultOutputLimit {
		t.Fatalf("len(Evaluate()) = %d, want %d", len(got), DefaultOutputLimit)
	}
}

func TestShellEvaluatorFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		token string
	}{
		{name: "empty result", token: "${ISOFORGE_UNSET_VARIABLE}"},
		{name: "failing command", token: "$(exit 3)${ISOFORGE_UNSET_VARIABLE:?missing}"},
		{name: "nul byte", token: "a\x00b"},
		{name: "broken quoting", token: `"`},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := shellEvaluator().Evaluate(context.Background(), tc.token); err == nil {
				t.Fatalf("Evaluate(%q) error = nil, want non-nil", tc.token)
			}
		})
	}
}

func TestExpandEnvWithShell(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "a.spec")
	content := "%env release: ${ISOFORGE_RELEASE} \"$(echo two words)\"\n"
	if err := os.WriteFile(root, []byte(content), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	got, err := New(WithEvaluator(shellEvaluator())).Expand(context.Background(), root)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if diff := cmp.Diff([]string{"release: bookworm two words"}, got); diff != "" {
		t.Fatalf("Expand() mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(got[0], "$") {
		t.Fatalf("unexpanded reference in %q", got[0])
	}
}
