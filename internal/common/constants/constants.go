// Package constants is responsible for defining the constants used in the application.
// It also provides utility functions to get the default data and import paths.
package constants

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// ExplorerServiceCmdName is the name of the explorer web service command.
	ExplorerServiceCmdName = "anomaly-explorer-service"

	// ImportServiceCmdName is the name of the import service command.
	ImportServiceCmdName = "anomaly-explorer-import-service"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn
)

// Service constants.
const (
	// DefaultServiceFolder is the name of the default root folder for services.
	DefaultServiceFolder = "anomaly-explorer-services"

	// DefaultImportFolder is the name of the default folder watched for files to import.
	DefaultImportFolder = "import"

	// DefaultInvalidFolder is the name of the default folder where rejected import files are kept.
	DefaultInvalidFolder = "invalid"

	// AnomalyRecordsKind is the import kind used for anomaly detection records.
	AnomalyRecordsKind = "ml-anomaly-records"

	// DefaultNamespace is the namespace used when none is given.
	DefaultNamespace = "default"
)

// Service variables.
var (
	// DefaultServiceDataDir is the default data directory for services.
	DefaultServiceDataDir = DefaultServiceFolder

	// DefaultImportDir is the default directory watched for files to import.
	DefaultImportDir = filepath.Join(DefaultServiceDataDir, DefaultImportFolder)

	// DefaultInvalidDir is the default directory where rejected import files are kept.
	DefaultInvalidDir = filepath.Join(DefaultServiceDataDir, DefaultInvalidFolder)
)

func init() {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		panic(fmt.Sprintf("Could not fetch cache directory: %v", err))
	}

	DefaultServiceDataDir = filepath.Join(userCacheDir, DefaultServiceFolder)
	DefaultImportDir = filepath.Join(DefaultServiceDataDir, DefaultImportFolder)
	DefaultInvalidDir = filepath.Join(DefaultServiceDataDir, DefaultInvalidFolder)
}
