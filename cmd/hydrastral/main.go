// Command hydrastral classifies a fleet of stream gauges against their own
// day-of-year flow history.
//
// Subcommands:
//   - build: fetch each gauge's full daily history, compute percentile
//     tables and publish one table per partition
//   - live: fetch current readings, classify them and publish one fleet
//     snapshot (plus an immutable archive copy)
//   - thresholds: fetch NWS flood stages and publish the flood threshold table
//   - serve: run live passes on an interval and serve the latest snapshot
//     over HTTP, with an optional gRPC health service
//
// Usage:
//
//	hydrastral build --partitions=NH,VT --store-root=/var/lib/hydrastral
//	hydrastral live --inventory=gauges.yaml --workers=20
//	hydrastral serve --partitions=ME --interval=15m --listen=:8080
//
// Every flag can also be set through an environment variable, for example
// PARTITIONS, MAX_WORKERS, OBJECT_STORE, GCS_BUCKET, LOG_LEVEL, LOG_FORMAT.
//
// Exit codes: 0 on success, 1 on a setup error, 2 when any gauge or
// artifact failed during the pass.
package main

import (
	"context"
	"os"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stderr))
}
