package audio

import (
	"testing"
	"time"
)

func ramp(n int, start int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(start+i) / 1e6
	}
	return samples
}

func TestChunkingConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    ChunkingConfig
		expectErr bool
	}{
		{"valid", ChunkingConfig{SampleRate: 16000, ChunkDuration: time.Second}, false},
		{"zero rate", ChunkingConfig{SampleRate: 0, ChunkDuration: time.Second}, true},
		{"zero duration", ChunkingConfig{SampleRate: 16000}, true},
		{"below one sample", ChunkingConfig{SampleRate: 100, ChunkDuration: time.Millisecond}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.config)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestChunkerWrite(t *testing.T) {
	// 100ms chunks at 8kHz are 800 samples
	chunker, err := NewChunker(ChunkingConfig{SampleRate: 8000, ChunkDuration: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	if chunks := chunker.Write(ramp(500, 0)); len(chunks) != 0 {
		t.Fatalf("Expected no chunk from 500 samples, got %d", len(chunks))
	}

	chunks := chunker.Write(ramp(1200, 500))
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		if len(chunk.Chunk) != 800 {
			t.Errorf("Chunk %d: expected 800 samples, got %d", i, len(chunk.Chunk))
		}
		if expected := int64(i * 100); chunk.Timestamp != expected {
			t.Errorf("Chunk %d: expected timestamp %d, got %d", i, expected, chunk.Timestamp)
		}
		// Samples stay contiguous across writes
		if chunk.Chunk[0] != float32(i*800)/1e6 {
			t.Errorf("Chunk %d starts with wrong sample %v", i, chunk.Chunk[0])
		}
	}

	if pending := chunker.GetStats().PendingSamples; pending != 100 {
		t.Fatalf("Expected 100 pending samples, got %d", pending)
	}

	last, ok := chunker.Flush()
	if !ok {
		t.Fatal("Expected flushed chunk")
	}
	if last.Timestamp != 200 || len(last.Chunk) != 100 {
		t.Errorf("Unexpected flushed chunk: timestamp %d, %d samples", last.Timestamp, len(last.Chunk))
	}

	if _, ok := chunker.Flush(); ok {
		t.Error("Expected nothing to flush")
	}

	stats := chunker.GetStats()
	if stats.ChunksCreated != 3 || stats.StreamPosition != 212500*time.Microsecond {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestChunkerChunksAreCopies(t *testing.T) {
	chunker, _ := NewChunker(ChunkingConfig{SampleRate: 1000, ChunkDuration: 4 * time.Millisecond})

	input := []float32{1, 2, 3, 4}
	chunks := chunker.Write(input)
	input[0] = 99

	if chunks[0].Chunk[0] != 1 {
		t.Error("Chunk must not alias the caller's buffer")
	}

	next := chunker.Write([]float32{5, 6, 7, 8})
	if chunks[0].Chunk[0] != 1 || next[0].Chunk[0] != 5 {
		t.Error("Chunks must not share the pending buffer")
	}
}
