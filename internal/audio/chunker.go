package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/skypro1111/asr-session-client/internal/transcription"
)

// ChunkingConfig contains configuration for the chunking process
type ChunkingConfig struct {
	SampleRate    int
	ChunkDuration time.Duration
}

// Validate checks the chunking parameters
func (c ChunkingConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk duration must be positive, got %v", c.ChunkDuration)
	}
	if c.ChunkSamples() == 0 {
		return fmt.Errorf("chunk duration %v is shorter than one sample at %d Hz", c.ChunkDuration, c.SampleRate)
	}
	return nil
}

// ChunkSamples returns the number of samples in one full chunk
func (c ChunkingConfig) ChunkSamples() int {
	return int(int64(c.SampleRate) * c.ChunkDuration.Milliseconds() / 1000)
}

// Chunker cuts a continuous sample stream into fixed-duration audio chunks.
// Each chunk is stamped with the millisecond offset of its first sample
// from the start of the stream.
type Chunker struct {
	config  ChunkingConfig
	size    int
	pending []float32
	emitted int64 // Samples already handed out in chunks

	// Statistics
	chunksCreated uint64

	mu sync.Mutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	ChunksCreated  uint64        `json:"chunks_created"`
	PendingSamples int           `json:"pending_samples"`
	StreamPosition time.Duration `json:"stream_position"`
}

// NewChunker creates a new audio chunker
func NewChunker(config ChunkingConfig) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	size := config.ChunkSamples()
	return &Chunker{
		config:  config,
		size:    size,
		pending: make([]float32, 0, size),
	}, nil
}

// Write appends samples and returns every chunk they complete
func (c *Chunker) Write(samples []float32) []transcription.AudioChunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	var chunks []transcription.AudioChunk
	for len(samples) > 0 {
		n := c.size - len(c.pending)
		if n > len(samples) {
			n = len(samples)
		}
		c.pending = append(c.pending, samples[:n]...)
		samples = samples[n:]

		if len(c.pending) == c.size {
			chunks = append(chunks, c.emit())
		}
	}
	return chunks
}

// Flush returns the partial chunk still pending, if any
func (c *Chunker) Flush() (transcription.AudioChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return transcription.AudioChunk{}, false
	}
	return c.emit(), true
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChunkerStats{
		ChunksCreated:  c.chunksCreated,
		PendingSamples: len(c.pending),
		StreamPosition: c.offset(c.emitted + int64(len(c.pending))),
	}
}

// emit must be called with mu held
func (c *Chunker) emit() transcription.AudioChunk {
	chunk := transcription.AudioChunk{
		Timestamp: c.offset(c.emitted).Milliseconds(),
		Chunk:     append(transcription.Samples(nil), c.pending...),
	}

	c.emitted += int64(len(c.pending))
	c.pending = c.pending[:0]
	c.chunksCreated++
	return chunk
}

func (c *Chunker) offset(samples int64) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(c.config.SampleRate)
}
