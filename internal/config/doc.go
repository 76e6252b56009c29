// Package config handles configuration loading for roomsync.
//
// # Overview
//
// Configuration is read from a YAML or TOML file, overridden by environment
// variables, completed with defaults and validated.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from ROOMSYNC_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/roomsync/config.yaml
//  4. ~/.config/roomsync/config.yaml
//
// A file ending in .toml is parsed as TOML, anything else as YAML. Running
// without a file is allowed; every setting then comes from the environment
// and defaults.
//
// # Environment Variable Expansion
//
// File values can reference environment variables:
//
//	user:
//	  token: "${ROOMSYNC_TOKEN}"
//
// # Environment Overrides
//
// Every setting can be overridden with ROOMSYNC_<SECTION>_<KEY>, for
// example ROOMSYNC_SERVER_API_URL or ROOMSYNC_SYNC_ECHO_TOLERANCE.
//
// # Configuration Sections
//
//	server:
//	  api_url: "https://api.example.com"     # REST base URL (required)
//	  push_url: "wss://api.example.com/ws"   # default: api_url with ws scheme
//	  request_timeout: "15s"
//
//	user:
//	  id: "64f0c2..."        # default: subject of the token
//	  token: "${ROOMSYNC_TOKEN}"
//	  token_file: ""
//
//	sync:
//	  echo_tolerance: "5s"   # max clock skew when matching sends to echoes
//	  dedupe_ttl: "10m"
//	  dedupe_size: 10000
//
//	channel:
//	  reconnect_initial: "2s"
//	  reconnect_max: "30s"
//	  ping_interval: "30s"
//	  send_buffer: 64
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: false
//	  addr: "127.0.0.1:9464"
//	  path: "/metrics"
//
// Duration values use time.ParseDuration syntax.
package config
