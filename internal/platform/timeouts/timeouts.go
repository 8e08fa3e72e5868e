// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// AuthIntrospect caps a single token introspection call to the identity
// provider.
const AuthIntrospect = 3 * time.Second

// Persist caps a single persistence call made while handling one realtime
// event.
const Persist = 5 * time.Second
