// Package client wraps the daemon HTTP API for the CLI. Failures carry
// the same error markers the pipeline uses so callers can distinguish a
// rejected request from an unreachable daemon.
package client
