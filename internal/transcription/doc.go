// Package transcription implements the HTTP client for the live transcription service.
// Every call is scoped by an explicit Session value, retried a fixed number of times
// with a fixed delay on transport failure, and reports failures as typed errors.
package transcription
