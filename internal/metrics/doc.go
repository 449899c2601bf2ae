// Package metrics defines the Prometheus instrumentation of the session client,
// the synchronization loop, the audio uploader and the monitoring server.
package metrics
