package sharedconfig

import (
	"path/filepath"

	"github.com/decred/dcrd/dcrutil"
)

const (
	DefaultConfigFilename = "segcollectord.conf"
	DefaultLogDirname     = "logs"
	DefaultDataFilename   = "segment_util.csv"
)

var (
	// DefaultHomeDir points to the segcollectord home directory.
	DefaultHomeDir = dcrutil.AppDataDir("segcollectord", false)

	// DefaultConfigFile points to the segcollectord configuration file.
	DefaultConfigFile = filepath.Join(DefaultHomeDir, DefaultConfigFilename)

	// DefaultLogDir points to the segcollectord log directory.
	DefaultLogDir = filepath.Join(DefaultHomeDir, DefaultLogDirname)
)
