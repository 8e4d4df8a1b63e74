package digs

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// Version is the running build's DiGS version, read from the embedded
// VERSION file so a release only needs to bump one line.
var Version = strings.TrimSpace(versionFile)
