// Package api defines the transport DTOs shared by the daemon HTTP
// surface, the CLI client, and their tests. Conversions live here so the
// store types never leak credential material onto the wire.
package api
