// Package constants is responsible for defining the constants used in the application.
package constants

import (
	"log/slog"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// WebServiceCmdName is the name of the web service command.
	WebServiceCmdName = "imagehost-web-service"

	// RelayServiceCmdName is the name of the relay service command.
	RelayServiceCmdName = "imagehost-relay-service"
)

const (
	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn

	// ReservedBlobPrefix marks object keys that belong to the hosting application
	// itself rather than user images. The consistency audit skips them.
	ReservedBlobPrefix = "app"
)
