// Package vad provides an energy-based voice activity gate.
// Audio is split into fixed windows and a window counts as voice when its
// RMS amplitude reaches the threshold. Chunks without a voiced window are
// reported as silent so they need not be uploaded.
package vad
