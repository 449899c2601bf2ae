// Package session manages the single active transcription session.
// It owns the workers bound to that session (transcript polling, audio
// chunking and upload) and replaces them as a unit when the session is
// switched, so no request is ever sent under a mix of old and new session.
package session
