package audio

import (
	"fmt"
	"os"
	"sync"
)

// Recorder keeps a copy of the audio fed to a session so it can be saved
// as a WAV file afterwards. A nil Recorder discards everything.
type Recorder struct {
	sampleRate int
	samples    []float32
	mu         sync.Mutex
}

// NewRecorder creates a recorder for audio sampled at sampleRate
func NewRecorder(sampleRate int) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	return &Recorder{sampleRate: sampleRate}, nil
}

// Write appends samples to the recording
func (r *Recorder) Write(samples []float32) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, samples...)
}

// Len returns the number of samples recorded
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// WAV encodes the recording as 16-bit mono PCM
func (r *Recorder) WAV() ([]byte, error) {
	r.mu.Lock()
	pcm := Float32ToPCM16(r.samples)
	r.mu.Unlock()

	return EncodeWAV(pcm, r.sampleRate)
}

// WriteFile saves the recording to path
func (r *Recorder) WriteFile(path string) error {
	data, err := r.WAV()
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write recording to %s: %w", path, err)
	}
	return nil
}
