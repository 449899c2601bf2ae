package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Processor detects voice activity by RMS energy
type Processor struct {
	threshold  float32
	windowSize int // Samples per analysis window

	// Statistics
	totalWindows  uint64
	voiceWindows  uint64
	silentChunks  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	Threshold       float32   `json:"threshold"`
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	SilentChunks    uint64    `json:"silent_chunks"`
	LastProcessed   time.Time `json:"last_processed"`
}

// NewProcessor creates a new VAD processor. A zero threshold treats every
// window as voice.
func NewProcessor(threshold float32, windowSize int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
	}, nil
}

// Enabled reports whether the processor can mark anything as silent
func (p *Processor) Enabled() bool {
	return p != nil && p.threshold > 0
}

// IsSilent reports whether no window of chunk reaches the threshold.
// A disabled or nil processor never reports silence.
func (p *Processor) IsSilent(chunk []float32) bool {
	if !p.Enabled() || len(chunk) == 0 {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	voiced := false
	for start := 0; start < len(chunk); start += p.windowSize {
		end := start + p.windowSize
		if end > len(chunk) {
			end = len(chunk)
		}
		if p.processWindow(chunk[start:end]) {
			voiced = true
		}
	}

	if !voiced {
		p.silentChunks++
	}
	return !voiced
}

// processWindow must be called with mu held
func (p *Processor) processWindow(samples []float32) bool {
	hasVoice := RMS(samples) >= p.threshold

	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}
	p.lastProcessed = time.Now()

	return hasVoice
}

// RMS returns the root mean square amplitude of samples
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return float32(math.Sqrt(energy / float64(len(samples))))
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		Threshold:       p.threshold,
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		SilentChunks:    p.silentChunks,
		LastProcessed:   p.lastProcessed,
	}
}
