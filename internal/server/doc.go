// Package server hosts the relay over HTTP: the /ws WebSocket endpoint that
// agents and the visitor widget connect to, REST bootstrap routes
// (/api/login for agent tokens, /api/session for widget sessions), and
// health checks.
//
// Each WebSocket connection gets one read-loop goroutine that feeds raw
// frames to the relay; the relay owns all frame semantics and the server
// only moves bytes. The listener is a plain TCP socket by default, or a
// Tailscale tsnet node when tailscale.enabled is set, optionally with
// Tailscale-provisioned HTTPS certs or a public Funnel listener for the
// embedded widget.
package server
