/*
Package main implements the tiod proxy daemon.

Service Overview:

tiod
====================

Service Type: TCP packet proxy + REST (HTTP/JSON) status API
Description: Owns a single transport to a tree of TIO sensor devices and
             multiplexes it across any number of local or remote client
             sessions. RPC identifiers are transparently remapped so every
             client keeps its own id space; device traffic is fanned out
             according to each client's scope and forwarding policy.

Client Listener:
----------------

TIO clients connect over TCP (default :7855) and speak the standard TIO
wire framing. Every connection gets a full-scope proxy session; closing
the connection ends the session and expires its in-flight RPCs.

Available REST Endpoints (default 127.0.0.1:7856):
--------------------------------------------------

 1. GET /api/health
    Description: Liveness check
    Response: {"status": "ok"}

 2. GET /api/status
    Description: Device and client-session state plus drop statistics
    Response:
    - version (string): daemon version
    - device_url (string): configured transport
    - device_up (bool): whether the transport is currently open
    - clients (int): registered client sessions
    - drops (object): dead-letter capture counters

 3. GET /api/drops
    Description: Recent packets dropped on full client queues
    Response: array of {client, route, kind, at}

 4. GET /api/events?limit=N
    Description: Recent status events from the journal (default 100)
    Response: array of {seq, at, kind, detail, ...}

 5. GET /api/events/export
    Description: Full journal as zstd-compressed NDJSON
    Response: application/zstd stream

Notes:
------
- All endpoints are rate limited per remote address (token bucket)
- Configuration comes from tiod.json, overridable with flags
*/
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/twinleaf/tio/pkg/common"
)

func main() {
	var (
		configPath  = flag.String("config", "", "configuration file (JSON)")
		deviceURL   = flag.String("url", "", "device transport url (overrides config)")
		listenAddr  = flag.String("listen", "", "TIO client listen address (overrides config)")
		statusAddr  = flag.String("status", "", "HTTP status API address (overrides config, enables the API)")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("tiod " + common.Version)
		return
	}

	cfg := common.DefaultConfig()
	if *configPath != "" {
		loaded, err := common.LoadConfig(*configPath)
		if err != nil {
			common.Fatal("%v", err)
		}
		cfg = loaded
	}
	if *deviceURL != "" {
		cfg.Device.URL = *deviceURL
	}
	if *listenAddr != "" {
		cfg.Listen.Address = *listenAddr
	}
	if *statusAddr != "" {
		cfg.Status.Address = *statusAddr
		cfg.Status.Enabled = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	level, err := common.ParseLevel(cfg.Logging.Level)
	if err != nil {
		common.Fatal("%v", err)
	}
	common.SetLevel(level)

	if err := run(cfg); err != nil {
		common.Error("[TIOD] %v", err)
		os.Exit(1)
	}
}
