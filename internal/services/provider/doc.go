// Package provider holds the HTTP client for the remote generation service.
//
// It exchanges captured browser cookies for session tokens, provisions remote
// projects, and runs generation requests. HTTP failures are mapped onto the
// shared error markers so stage handlers can route credential rejections,
// throttling, and permanent faults differently. Options allow tests to supply
// custom HTTP clients without modifying production code.
package provider
