package digs

import "errors"

var (
	errEmptyLFN            = errors.New("lfn must not be empty")
	errLFNContainsDirToken = errors.New("lfn must not contain the reserved \"-DIR-\" token")
	errLFNBadSlashes       = errors.New("lfn must not start/end with '/' or contain '//'")
)
