// Package config loads and validates switchboard configuration.
//
// Configuration is YAML with ${VAR} environment expansion and Go duration
// strings for timing fields. See Load for the entry point and Config for
// the full set of sections: server, tailscale, database, auth, responder,
// relay, and logging.
package config
