// Package chunksync keeps a local copy of a session's transcript in step
// with the transcription service. Chunks are keyed by timestamp and carry a
// server-assigned version; each poll fetches only the chunks whose server
// version is newer than the local one, or that are missing locally.
package chunksync
