// ABOUTME: Sample configuration written by the init command
// ABOUTME: Kept valid so Parse accepts it unchanged

package config

// SampleYAML is a commented starting configuration.
const SampleYAML = `# wbot-gateway configuration

server:
  http_addr: "127.0.0.1:8080"

database:
  path: "./wbot.db"

auth:
  # At least 32 bytes. Leave empty to scope requests by X-Company-ID instead.
  jwt_secret: "${WBOT_JWT_SECRET}"

engine:
  name: "simulator"
  qr_interval: "20s"
  connect_timeout: "20s"

caches:
  messages: { ttl: "60s", max_size: 1000 }
  retries:  { ttl: "600s", max_size: 1000 }
  groups:   { ttl: "1h", max_size: 10000 }

lifecycle:
  max_qr: 3
  reconnect_schedule: ["2s", "5s", "10s", "30s", "60s"]
  restart_delay: "2s"

tailscale:
  enabled: false
  hostname: "wbot-gateway"

matrix:
  enabled: false

logging:
  level: "info"
  format: "text"
`
