package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/asr-session-client/internal/metrics"
	"github.com/skypro1111/asr-session-client/internal/transcription"
	"github.com/skypro1111/asr-session-client/internal/vad"
)

// Submitter is the part of the transcription client an Uploader needs
type Submitter interface {
	SubmitAudioChunk(ctx context.Context, session transcription.Session, chunk transcription.AudioChunk) (*transcription.Ack, error)
}

// UploaderConfig contains configuration for audio uploads
type UploaderConfig struct {
	QueueSize     int
	SubmitTimeout time.Duration
}

// Uploader sends audio chunks of one session from a bounded queue.
// When the queue is full the oldest waiting chunk is dropped, so a slow
// service costs the stale audio instead of unbounded memory.
type Uploader struct {
	submitter Submitter
	session   transcription.Session
	config    UploaderConfig
	gate      *vad.Processor
	logger    *slog.Logger
	metrics   *metrics.Metrics

	queue   chan transcription.AudioChunk
	closed  bool
	started bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	// Statistics
	chunksQueued    uint64
	chunksSubmitted uint64
	chunksFailed    uint64
	chunksDropped   uint64
	chunksSilent    uint64

	mu sync.Mutex
}

// UploaderStats represents uploader statistics
type UploaderStats struct {
	SessionID       string `json:"session_id"`
	ChunksQueued    uint64 `json:"chunks_queued"`
	ChunksSubmitted uint64 `json:"chunks_submitted"`
	ChunksFailed    uint64 `json:"chunks_failed"`
	ChunksDropped   uint64 `json:"chunks_dropped"`
	ChunksSilent    uint64 `json:"chunks_silent"`
	QueueDepth      int    `json:"queue_depth"`
}

// NewUploader creates an uploader bound to session. gate, logger and m may be nil.
func NewUploader(submitter Submitter, session transcription.Session, config UploaderConfig,
	gate *vad.Processor, logger *slog.Logger, m *metrics.Metrics) *Uploader {

	if config.QueueSize <= 0 {
		config.QueueSize = 32
	}

	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = 30 * time.Second
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Uploader{
		submitter: submitter,
		session:   session,
		config:    config,
		gate:      gate,
		logger:    logger,
		metrics:   m,
		queue:     make(chan transcription.AudioChunk, config.QueueSize),
		done:      make(chan struct{}),
	}
}

// Session returns the session chunks are uploaded to
func (u *Uploader) Session() transcription.Session {
	return u.session
}

// Start launches the upload worker. Cancelling ctx abandons queued chunks.
func (u *Uploader) Start(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.started || u.closed {
		return
	}
	u.started = true
	u.ctx, u.cancel = context.WithCancel(ctx)

	go u.uploadRoutine()
}

// Enqueue queues chunk for upload. It reports false when the chunk was
// skipped as silent or the uploader is closed.
func (u *Uploader) Enqueue(chunk transcription.AudioChunk) bool {
	if u.gate.IsSilent(chunk.Chunk) {
		u.mu.Lock()
		u.chunksSilent++
		u.mu.Unlock()
		u.metrics.RecordAudioSilent()

		u.logger.Debug("Skipping silent audio chunk",
			slog.String("session_id", u.session.ID),
			slog.Int64("timestamp", chunk.Timestamp),
		)
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return false
	}

	for {
		select {
		case u.queue <- chunk:
			u.chunksQueued++
			u.metrics.RecordAudioQueued(len(u.queue))
			return true
		default:
		}

		select {
		case old := <-u.queue:
			u.chunksDropped++
			u.metrics.RecordAudioDropped()

			u.logger.Warn("Upload queue full, dropping oldest audio chunk",
				slog.String("session_id", u.session.ID),
				slog.Int64("dropped_timestamp", old.Timestamp),
				slog.Int("queue_size", u.config.QueueSize),
			)
		default:
		}
	}
}

// Close stops accepting chunks, waits until the queued ones are sent and
// stops the worker. An uploader that was never started discards its queue.
func (u *Uploader) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		<-u.done
		return
	}
	u.closed = true
	close(u.queue)
	started := u.started
	u.mu.Unlock()

	if !started {
		close(u.done)
		return
	}

	<-u.done
	u.cancel()

	stats := u.GetStats()
	u.logger.Info("Audio uploader stopped",
		slog.String("session_id", u.session.ID),
		slog.Uint64("chunks_submitted", stats.ChunksSubmitted),
		slog.Uint64("chunks_failed", stats.ChunksFailed),
		slog.Uint64("chunks_dropped", stats.ChunksDropped),
		slog.Uint64("chunks_silent", stats.ChunksSilent),
	)
}

// GetStats returns current uploader statistics
func (u *Uploader) GetStats() UploaderStats {
	u.mu.Lock()
	defer u.mu.Unlock()

	return UploaderStats{
		SessionID:       u.session.ID,
		ChunksQueued:    u.chunksQueued,
		ChunksSubmitted: u.chunksSubmitted,
		ChunksFailed:    u.chunksFailed,
		ChunksDropped:   u.chunksDropped,
		ChunksSilent:    u.chunksSilent,
		QueueDepth:      len(u.queue),
	}
}

func (u *Uploader) uploadRoutine() {
	defer close(u.done)

	u.logger.Debug("Audio upload routine started",
		slog.String("session_id", u.session.ID),
		slog.Int("queue_size", u.config.QueueSize),
	)

	for chunk := range u.queue {
		if u.ctx.Err() != nil {
			continue // Drain without sending
		}
		err := u.submit(chunk)

		u.mu.Lock()
		if err != nil {
			u.chunksFailed++
		} else {
			u.chunksSubmitted++
		}
		u.mu.Unlock()
		u.metrics.RecordAudioSubmitted(len(chunk.Chunk), len(u.queue), err == nil)

		if err != nil {
			u.logger.Error("Audio chunk upload failed",
				slog.String("session_id", u.session.ID),
				slog.Int64("timestamp", chunk.Timestamp),
				slog.Int("samples", len(chunk.Chunk)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (u *Uploader) submit(chunk transcription.AudioChunk) error {
	ctx, cancel := context.WithTimeout(u.ctx, u.config.SubmitTimeout)
	defer cancel()

	if _, err := u.submitter.SubmitAudioChunk(ctx, u.session, chunk); err != nil {
		return fmt.Errorf("failed to submit chunk %d: %w", chunk.Timestamp, err)
	}
	return nil
}
