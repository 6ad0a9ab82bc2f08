package spec

import (
	"errors"
	"fmt"
)

// ErrSpecFile matches every *FileError.
var ErrSpecFile = errors.New("spec file error")

// A FileError reports a spec file that cannot be used: no or an unsupported
// execution strategy, or a vital parameter missing after parsing.
type FileError struct {
	Path    string
	Key     string
	Value   string
	Message string
}

func (e *FileError) Error() string {
	switch {
	case e.Key != "" && e.Value != "":
		return fmt.Sprintf("%s: %s: %s (%s)", e.Path, e.Message, e.Key, e.Value)
	case e.Key != "":
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Message, e.Key)
	default:
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
}

func (e *FileError) Unwrap() error {
	return ErrSpecFile
}
