// Package config handles configuration loading for wbot-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by the .toml
// extension) with environment variable expansion. Every tunable has a
// default; Validate rejects inconsistent combinations.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${WBOT_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	lifecycle:
//	  max_qr: 3
//	  reconnect_schedule: ["2s", "5s", "10s", "30s", "60s"]
//	  restart_delay: "2s"
//
// # Configuration Sections
//
//	server:     http_addr
//	tailscale:  enabled, hostname, auth_key, state_dir, ephemeral, https, funnel
//	database:   path
//	auth:       jwt_secret (empty disables token auth)
//	engine:     name, version, browser, qr_interval, connect_timeout, retry_request_delay
//	caches:     messages, retries, groups, mapping (ttl, max_size each)
//	lifecycle:  max_qr, reconnect_schedule, restart_delay
//	matrix:     enabled, homeserver, user_id, access_token, room_id
//	logging:    level (debug|info|warn|error), format (text|json)
package config
