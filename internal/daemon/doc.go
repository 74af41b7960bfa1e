// Package daemon hosts the long-running loom process: it enforces
// single-instance execution with a lock file, runs the pipeline
// orchestrator, and serves the HTTP API the CLI talks to.
package daemon
