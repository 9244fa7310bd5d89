// Package http exposes the local API consumed by the GUI shell.
//
// The surface is small: license verify/status, batch job submission
// and inspection, a websocket feed of job progress, and Prometheus
// metrics. The server binds to loopback; it is a desktop companion
// process, not a public service.
package http
