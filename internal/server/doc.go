// Package server manages HTTP listener lifecycle for the gateway:
// non-blocking start, graceful shutdown with request draining, and
// SIGINT/SIGTERM handling via WaitForShutdown.
package server
