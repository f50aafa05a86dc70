package common

import "time"

// Network defaults for the daemon.
const (
	// DefaultDeviceURL is the device transport opened when none is
	// configured.
	DefaultDeviceURL = "serial:///dev/ttyUSB0"
	// DefaultListenAddr is where the daemon accepts TIO clients.
	DefaultListenAddr = ":7855"
	// DefaultStatusAddr is where the daemon serves the HTTP status API.
	DefaultStatusAddr = "127.0.0.1:7856"
)

// Timeout defaults.
const (
	// DefaultReconnectTimeout is how long the proxy keeps retrying a lost
	// device before giving up.
	DefaultReconnectTimeout = 30 * time.Second
	// DefaultShutdownTimeout is the graceful shutdown window for the
	// status server.
	DefaultShutdownTimeout = 10 * time.Second
)

// Storage defaults.
const (
	// DefaultJournalPath is the event journal database file.
	DefaultJournalPath = "tiod-events.db"
	// DefaultJournalRetain is how many journal records are kept.
	DefaultJournalRetain = 10000
)

// Status API defaults.
const (
	// DefaultAPIRateTokens is the per-client burst for the status API.
	DefaultAPIRateTokens = 20
	// DefaultAPIRateRefill is how often one API token is replenished.
	DefaultAPIRateRefill = 100 * time.Millisecond
)
