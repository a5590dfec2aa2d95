// Package server manages HTTP server lifecycle: non-blocking start,
// graceful shutdown and signal handling. The API and metrics listeners
// each get their own Manager.
package server
