// Package audio turns recorded audio into chunks for the transcription
// service. It converts between float32 samples and 16-bit PCM, reads and
// writes WAV files, cuts sample streams into fixed-duration chunks and
// uploads them from a bounded queue.
package audio
