package mapper

import "time"

// Capabilities gates which operation families this mapper handles. A
// disabled family logs a warning and produces no SmartREST frames or
// marker files for any input, regardless of what arrives.
type Capabilities struct {
	ConfigSnapshot bool
	ConfigUpdate   bool
}

// Config is the Converter's static configuration, built once at startup
// from the CLI/viper layer (see cmd/run.go) and never mutated afterwards.
type Config struct {
	// TedgeHTTPHost is the host:port the local file-transfer HTTP server
	// is reachable on, used to build tedgeUrl fields in command payloads.
	TedgeHTTPHost string
	// DataDir roots the cache/ and file-transfer/ directories.
	DataDir string
	// OpsDir roots the supported-operations capability marker tree.
	OpsDir string
	// ConfigDir roots thin-edge.io's own configuration, including the
	// per-device custom-fragment directory the builder provisions.
	ConfigDir string

	SyncWindow time.Duration

	Capabilities Capabilities
}
