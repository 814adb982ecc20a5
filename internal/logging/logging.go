// Package logging builds the zerolog logger every component takes as
// a plain value — never a package-level global, so tests can capture
// output and multiple in-process nodes (cmd/demo) each get their own
// node_id-tagged logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger tagged with node_id. Pretty enables
// human-readable console output for local development; production
// deployments want the default structured JSON to stdout.
func New(nodeID int, pretty bool) zerolog.Logger {
	var out zerolog.ConsoleWriter
	base := zerolog.New(os.Stdout)
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		base = zerolog.New(out)
	}
	return base.With().Timestamp().Int("node_id", nodeID).Logger()
}
