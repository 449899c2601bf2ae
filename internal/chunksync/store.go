package chunksync

import (
	"sort"
	"strings"
	"sync"

	"github.com/skypro1111/asr-session-client/internal/transcription"
)

// Stale returns the server versions of the chunks that are missing from
// local or newer on the server than in local
func Stale(local, server transcription.TextChunkVersions) transcription.TextChunkVersions {
	stale := make(transcription.TextChunkVersions)
	for ts, version := range server {
		if known, ok := local[ts]; !ok || version > known {
			stale[ts] = version
		}
	}
	return stale
}

// Store holds the local copy of a transcript
type Store struct {
	chunks map[int64]transcription.TextChunk
	mu     sync.RWMutex
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		chunks: make(map[int64]transcription.TextChunk),
	}
}

// Merge replaces whole entries by timestamp and returns the chunks it
// applied. A chunk older than the stored version is skipped, so local
// versions never go backwards. When chunks holds the same timestamp twice,
// the later one wins unless it is older.
func (s *Store) Merge(chunks []transcription.TextChunk) []transcription.TextChunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := make([]transcription.TextChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if stored, ok := s.chunks[chunk.Timestamp]; ok && chunk.Version < stored.Version {
			continue
		}
		s.chunks[chunk.Timestamp] = chunk
		applied = append(applied, chunk)
	}
	return applied
}

// Versions returns the local version map, as sent to the service
func (s *Store) Versions() transcription.TextChunkVersions {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := make(transcription.TextChunkVersions, len(s.chunks))
	for ts, chunk := range s.chunks {
		versions[ts] = chunk.Version
	}
	return versions
}

// Get returns the chunk stored at timestamp
func (s *Store) Get(timestamp int64) (transcription.TextChunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunk, ok := s.chunks[timestamp]
	return chunk, ok
}

// Chunks returns every chunk ordered by timestamp
func (s *Store) Chunks() []transcription.TextChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]transcription.TextChunk, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		chunks = append(chunks, chunk)
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Timestamp < chunks[j].Timestamp
	})
	return chunks
}

// Len returns the number of chunks held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Text joins the non-empty chunk texts in timestamp order, one per line
func (s *Store) Text() string {
	var b strings.Builder
	for _, chunk := range s.Chunks() {
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}
