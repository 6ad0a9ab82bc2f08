package preprocess

import (
	"errors"
	"fmt"
)

var (
	// ErrPreprocess matches every error produced while expanding directives.
	ErrPreprocess = errors.New("preprocessor error")
	// ErrDepthExceeded is reported when nested expansion exceeds the depth bound,
	// typically because of an import cycle.
	ErrDepthExceeded = errors.New("maximum include depth exceeded")
	// ErrExpanderExists is returned when a directive name is registered twice.
	ErrExpanderExists = errors.New("expander already provided")
)

// An Error describes a directive that could not be expanded.
type Error struct {
	Path string // file containing the directive
	Line string // directive line, as read
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: invalid preprocessor line %q: %v", e.Path, e.Line, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrPreprocess, e.Err}
}

func wrap(path, line string, err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	return &Error{Path: path, Line: line, Err: err}
}
