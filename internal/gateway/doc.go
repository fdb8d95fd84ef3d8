// Package gateway orchestrates the wbot-gateway server components.
//
// # Overview
//
// The gateway owns the store, the session registry, the lifecycle manager,
// the session bootstrap service, the notification fan-out, and the HTTP
// server. New wires them; Run serves until the context is cancelled and then
// shuts everything down in reverse order.
//
// # HTTP API
//
// Every /api route is scoped to the caller's company (JWT subject, or the
// X-Company-ID header when auth is disabled):
//
//	GET  /health                      liveness
//	GET  /health/ready                live session count
//	GET  /api/sessions                accounts with lifecycle state
//	POST /api/sessions                create an account {"name": "..."}
//	POST /api/sessions/{id}/start     explicit start (revives TERMINATED)
//	POST /api/sessions/{id}/logout    logout and clear credentials
//	POST /api/sessions/{id}/pair      simulator only {"number": "..."}
//	POST /api/sessions/{id}/kick      simulator only {"code": 428}
//	POST /api/companies/{id}/restart  restart every live session of the company
//	GET  /api/events                  SSE stream of session and presence notices
//
// # Listeners
//
// Without Tailscale the HTTP server binds server.http_addr. With Tailscale
// enabled a tsnet node is started and the API is served on the tailnet, over
// HTTPS when tailscale.https or tailscale.funnel is set.
package gateway
