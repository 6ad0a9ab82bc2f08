package spec

import (
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/cochaviz/isoforge/internal/hostexec"
)

// Parsers shared by strategy schemas.

// AsString keeps the raw value.
func AsString(raw string) (any, bool) {
	return strings.TrimSpace(raw), true
}

// AsInteger parses a base-10 integer.
func AsInteger(raw string) (any, bool) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, false
	}
	return value, true
}

// AsBoolean accepts yes/no, true/false, on/off and 1/0.
func AsBoolean(raw string) (any, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true", "on", "1", "enable", "enabled":
		return true, true
	case "no", "false", "off", "0", "disable", "disabled":
		return false, true
	default:
		return nil, false
	}
}

// AsCommaList splits on commas and drops empty elements.
func AsCommaList(raw string) (any, bool) {
	return commaSeparate(raw, nil), true
}

// AsPathList is AsCommaList that also drops elements containing NUL.
func AsPathList(raw string) (any, bool) {
	return commaSeparate(raw, func(s string) bool { return !strings.ContainsRune(s, 0) }), true
}

// AsCommand splits a command line with shell quoting rules.
func AsCommand(raw string) (any, bool) {
	args, err := shlex.Split(raw)
	if err != nil {
		return nil, false
	}
	return args, true
}

func commaSeparate(raw string, keep func(string) bool) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if keep != nil && !keep(part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

// Verifiers shared by strategy schemas.

// NonEmpty accepts non-empty strings and lists.
func NonEmpty(value any) bool {
	switch v := value.(type) {
	case string:
		return v != ""
	case []string:
		return len(v) > 0
	default:
		return value != nil
	}
}

// IsDir accepts a string naming an existing directory.
func IsDir(value any) bool {
	path, ok := value.(string)
	if !ok || path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsFile accepts a string naming an existing regular file.
func IsFile(value any) bool {
	path, ok := value.(string)
	if !ok || path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsAbsPath accepts absolute path strings.
func IsAbsPath(value any) bool {
	path, ok := value.(string)
	return ok && strings.HasPrefix(path, "/")
}

// CommandAvailable accepts an argument list whose first element is in PATH.
func CommandAvailable(value any) bool {
	args, ok := value.([]string)
	if !ok || len(args) == 0 {
		return false
	}
	return hostexec.CommandAvailable(args[0])
}

// ExecutableCommand accepts an argument list whose first element is an
// executable file.
func ExecutableCommand(value any) bool {
	args, ok := value.([]string)
	if !ok || len(args) == 0 {
		return false
	}
	return hostexec.IsExecutableFile(args[0])
}

// IntRange accepts integers within [lo, hi].
func IntRange(lo, hi int) func(any) bool {
	return func(value any) bool {
		v, ok := value.(int)
		return ok && v >= lo && v <= hi
	}
}

// OneOf accepts strings from a fixed set.
func OneOf(allowed ...string) func(any) bool {
	return func(value any) bool {
		v, ok := value.(string)
		return ok && slices.Contains(allowed, v)
	}
}

// All combines verifiers; every one must accept.
func All(verifiers ...func(any) bool) func(any) bool {
	return func(value any) bool {
		for _, verify := range verifiers {
			if !verify(value) {
				return false
			}
		}
		return true
	}
}
