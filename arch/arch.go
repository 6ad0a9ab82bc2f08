package arch

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Architecture is a canonical machine name as understood by setarch, qemu and libvirt.
type Architecture string

const (
	X86_64  Architecture = "x86_64"
	I686    Architecture = "i686"
	AArch64 Architecture = "aarch64"
	ARMV7L  Architecture = "armv7l"
	PPC64LE Architecture = "ppc64le"
	S390X   Architecture = "s390x"
)

// Supported returns the full list of supported architectures.
func Supported() []Architecture {
	return []Architecture{X86_64, I686, AArch64, ARMV7L, PPC64LE, S390X}
}

// String returns the architecture as string.
func (a Architecture) String() string {
	return string(a)
}

// Bits reports the word size of the architecture.
func (a Architecture) Bits() int {
	switch a {
	case I686, ARMV7L:
		return 32
	default:
		return 64
	}
}

// Parse returns the canonical Architecture for the provided string or an error if unsupported.
func Parse(value string) (Architecture, error) {
	if a := Normalize(value); a != "" {
		return a, nil
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
}

// Normalize maps Debian, Go and kernel spellings onto a canonical Architecture.
// Returns "" when the string cannot be normalized.
func Normalize(value string) Architecture {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "x86_64", "x86-64", "amd64":
		return X86_64
	case "x86", "i386", "i486", "i586", "i686", "386":
		return I686
	case "aarch64", "arm64":
		return AArch64
	case "armv7l", "arm", "armv7", "armhf":
		return ARMV7L
	case "ppc64le", "ppc64el", "powerpc64le":
		return PPC64LE
	case "s390x":
		return S390X
	default:
		return ""
	}
}

// Host returns the architecture of the running process.
func Host() Architecture {
	return Normalize(runtime.GOARCH)
}

// Personality returns the setarch wrapper needed to execute target binaries
// inside a chroot on host, or nil when none is needed. A 32-bit userland on
// its 64-bit sibling needs the matching personality so uname reports the
// chroot's machine.
func Personality(host, target Architecture) []string {
	if host == target || target == "" {
		return nil
	}
	switch {
	case host == X86_64 && target == I686:
		return []string{"linux32"}
	case host == AArch64 && target == ARMV7L:
		return []string{"linux32"}
	default:
		return nil
	}
}

// Native reports whether target binaries run on host without emulation.
func Native(host, target Architecture) bool {
	if host == target {
		return true
	}
	return Personality(host, target) != nil
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}
