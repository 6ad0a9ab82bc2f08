// Package setup loads the process-wide isoforge settings: the scratch
// directory root, the shell used to evaluate %env directives and the include
// depth bound of the preprocessor.
//
// Settings are read once at startup and passed down explicitly; this is the
// only package allowed to log through a package-level logger.
package setup
