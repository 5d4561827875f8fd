// Package constants defines the constants shared between the indexops services.
package constants

import "path/filepath"

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// WebServiceCmdName is the name of the web service command.
	WebServiceCmdName = "indexops-web-service"

	// IngestServiceCmdName is the name of the ingest service command.
	IngestServiceCmdName = "indexops-ingest-service"
)

// Service constants.
const (
	// DefaultServiceFolder is the name of the default root folder for services.
	DefaultServiceFolder = "indexops-services"

	// DefaultFeedsFolder is the name of the default folder feed exports are read from.
	DefaultFeedsFolder = "feeds"

	// CompletedStatus marks a log record whose ingestion run finished.
	// Only completed records participate in metrics and anomaly computation.
	CompletedStatus = "completed"
)

// Service variables.
var (
	// DefaultServiceDataDir is the default data directory for services.
	DefaultServiceDataDir = filepath.Join("/var/lib", DefaultServiceFolder)

	// DefaultFeedsDir is the default directory feed exports are read from.
	DefaultFeedsDir = filepath.Join(DefaultServiceDataDir, DefaultFeedsFolder)
)
