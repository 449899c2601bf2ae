// Package server implements the monitoring HTTP API, the websocket transcript
// feed and the UDP audio ingest that run alongside the active session.
package server
