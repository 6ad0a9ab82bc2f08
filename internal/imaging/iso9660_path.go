package imaging

import "strings"

// Identifier limits applied by the ISO writer.
const (
	maxDirIdentifier  = 31
	maxFileIdentifier = 30
	maxExtension      = 8
	fileVersion       = ";1"
)

// dCharacters are kept as is in identifiers; every other byte becomes '_'.
const dCharacters = "abcdefghijklmnopqrstuvwxyz0123456789_!\"%&'()*+,-./:;<=>?"

// ISOPath returns the absolute path under which the ISO writer stores the
// file at rel, without the ";1" version suffix. Boot configuration inside the
// image has to use this name. An empty rel yields "".
func ISOPath(rel string) string {
	var segments []string
	for _, segment := range strings.Split(rel, "/") {
		if segment != "" && segment != "." {
			segments = append(segments, segment)
		}
	}
	if len(segments) == 0 {
		return ""
	}

	last := len(segments) - 1
	for i := range segments[:last] {
		segments[i] = dString(segments[i], maxDirIdentifier)
	}
	segments[last] = fileIdentifier(segments[last])
	return "/" + strings.Join(segments, "/")
}

// fileIdentifier keeps the last dot as the extension separator and folds
// the others into '_'.
func fileIdentifier(name string) string {
	base, ext := strings.ToLower(name), ""
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base, ext = strings.ReplaceAll(base[:i], ".", "_"), dString(base[i+1:], maxExtension)
	}

	limit := maxFileIdentifier - len(fileVersion)
	if ext == "" {
		return dString(base, limit)
	}
	return dString(base, limit-len(ext)-1) + "." + ext
}

func dString(s string, limit int) string {
	s = strings.ToLower(s)
	if len(s) > limit {
		s = s[:limit]
	}
	b := []byte(s)
	for i, c := range b {
		if strings.IndexByte(dCharacters, c) < 0 {
			b[i] = '_'
		}
	}
	return string(b)
}
