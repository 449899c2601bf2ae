package chunksync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/skypro1111/asr-session-client/internal/metrics"
	"github.com/skypro1111/asr-session-client/internal/transcription"
)

// ErrUnknownChunk is returned for a timestamp the local store does not hold
var ErrUnknownChunk = errors.New("no text chunk at timestamp")

// Service is the part of the transcription client a Syncer needs
type Service interface {
	GetLatestTextChunkVersions(ctx context.Context, session transcription.Session) (transcription.TextChunkVersions, error)
	GetLatestTextChunks(ctx context.Context, session transcription.Session, known transcription.TextChunkVersions) ([]transcription.TextChunk, error)
	UpdateTextChunk(ctx context.Context, session transcription.Session, chunk transcription.TextChunk) (transcription.TextChunk, error)
	RateTextChunk(ctx context.Context, session transcription.Session, chunk transcription.TextChunk, rating int) (*transcription.Ack, error)
}

// Syncer keeps a Store in step with one session
type Syncer struct {
	service Service
	session transcription.Session
	store   *Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSyncer binds a syncer to session. logger and m may be nil.
func NewSyncer(service Service, session transcription.Session, store *Store, logger *slog.Logger, m *metrics.Metrics) *Syncer {
	if store == nil {
		store = NewStore()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Syncer{
		service: service,
		session: session,
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// Session returns the session the syncer is bound to
func (s *Syncer) Session() transcription.Session {
	return s.session
}

// Store returns the local transcript
func (s *Syncer) Store() *Store {
	return s.store
}

// Poll runs one synchronization round and returns the merged chunks.
// Nothing beyond the version map is fetched when the local copy is current.
func (s *Syncer) Poll(ctx context.Context) ([]transcription.TextChunk, error) {
	server, err := s.service.GetLatestTextChunkVersions(ctx, s.session)
	if err != nil {
		s.metrics.RecordSyncPoll(0, s.store.Len(), true)
		return nil, fmt.Errorf("failed to fetch chunk versions: %w", err)
	}

	local := s.store.Versions()
	stale := Stale(local, server)
	if len(stale) == 0 {
		s.metrics.RecordSyncPoll(0, len(local), false)
		return nil, nil
	}

	// Timestamps the service no longer lists are left out of the request
	known := make(transcription.TextChunkVersions, len(local))
	for ts, version := range local {
		if _, ok := server[ts]; ok {
			known[ts] = version
		}
	}

	chunks, err := s.service.GetLatestTextChunks(ctx, s.session, known)
	if err != nil {
		s.metrics.RecordSyncPoll(0, len(local), true)
		return nil, fmt.Errorf("failed to fetch text chunks: %w", err)
	}

	// An edit may have landed while the request was in flight
	merged := s.store.Merge(chunks)
	tracked := s.store.Len()
	s.metrics.RecordSyncPoll(len(merged), tracked, false)

	s.logger.Debug("Merged text chunks",
		slog.String("session_id", s.session.ID),
		slog.Int("stale", len(stale)),
		slog.Int("received", len(chunks)),
		slog.Int("merged", len(merged)),
		slog.Int("tracked", tracked),
	)

	if len(merged) == 0 {
		return nil, nil
	}
	return merged, nil
}

// Edit submits new text for the chunk at timestamp. The reply replaces
// the local chunk as is, including its version.
func (s *Syncer) Edit(ctx context.Context, timestamp int64, text string) (transcription.TextChunk, error) {
	chunk, ok := s.store.Get(timestamp)
	if !ok {
		return transcription.TextChunk{}, fmt.Errorf("%w %d", ErrUnknownChunk, timestamp)
	}
	chunk.Text = text

	updated, err := s.service.UpdateTextChunk(ctx, s.session, chunk)
	if err != nil {
		return transcription.TextChunk{}, fmt.Errorf("failed to edit chunk %d: %w", timestamp, err)
	}

	s.store.Merge([]transcription.TextChunk{updated})
	s.metrics.RecordChunkEdit()

	s.logger.Info("Text chunk edited",
		slog.String("session_id", s.session.ID),
		slog.Int64("timestamp", updated.Timestamp),
		slog.Int("version", updated.Version),
	)

	return updated, nil
}

// Rate adds rating to the locally known version of the chunk at timestamp
func (s *Syncer) Rate(ctx context.Context, timestamp int64, rating int) error {
	chunk, ok := s.store.Get(timestamp)
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownChunk, timestamp)
	}

	if _, err := s.service.RateTextChunk(ctx, s.session, chunk, rating); err != nil {
		return fmt.Errorf("failed to rate chunk %d: %w", timestamp, err)
	}
	return nil
}
