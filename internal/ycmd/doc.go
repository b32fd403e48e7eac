// Package ycmd drives a locally-spawned ycmd code-intelligence server
// over HMAC-authenticated HTTP.
//
// Client is the entry point: it launches the server with a one-time
// options file carrying a fresh per-session secret, discovers the port
// from the server's readiness announcement, and exposes completions,
// navigation, documentation, and fix-it operations over the buffers the
// caller registers. Buffer contents travel with every request; the
// server never reads files from disk on the client's behalf.
package ycmd
