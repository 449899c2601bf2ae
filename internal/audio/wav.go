package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// wavHeader is the canonical 44-byte header written by EncodeWAV
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// wavFormat is the body of a "fmt " chunk
type wavFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// WAVInfo describes a decoded WAV file
type WAVInfo struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	NumSamples    int     `json:"num_samples"` // Per channel
	Duration      float64 `json:"duration_seconds"`
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	buf.Write(EncodePCM16LE(samples))

	return buf.Bytes(), nil
}

// DecodeWAV decodes 16-bit PCM WAV data into mono samples. Chunks other
// than "fmt " and "data" (LIST, fact...) are skipped and stereo input is
// averaged down to one channel.
func DecodeWAV(data []byte) ([]int16, *WAVInfo, error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var format *wavFormat
	var pcm []byte

	r := bytes.NewReader(data[12:])
	for pcm == nil {
		var id [4]byte
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("failed to read chunk header: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, nil, fmt.Errorf("failed to read chunk size: %w", err)
		}

		switch string(id[:]) {
		case "fmt ":
			if size < 16 {
				return nil, nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", size)
			}
			format = &wavFormat{}
			if err := binary.Read(r, binary.LittleEndian, format); err != nil {
				return nil, nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if err := skip(r, int64(size-16)+int64(size%2)); err != nil {
				return nil, nil, err
			}

		case "data":
			if format == nil {
				return nil, nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			// Streams written on the fly may carry a bogus size
			if int64(size) > int64(r.Len()) {
				size = uint32(r.Len())
			}
			pcm = make([]byte, size)
			if _, err := io.ReadFull(r, pcm); err != nil {
				return nil, nil, fmt.Errorf("failed to read audio data: %w", err)
			}

		default:
			if err := skip(r, int64(size)+int64(size%2)); err != nil {
				return nil, nil, err
			}
		}
	}

	if format == nil {
		return nil, nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if pcm == nil {
		return nil, nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if format.AudioFormat != 1 {
		return nil, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format.AudioFormat)
	}

	if format.BitsPerSample != 16 {
		return nil, nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.BitsPerSample)
	}

	if format.NumChannels != 1 && format.NumChannels != 2 {
		return nil, nil, fmt.Errorf("unsupported channel count: %d (only mono and stereo are supported)", format.NumChannels)
	}

	if format.SampleRate == 0 {
		return nil, nil, fmt.Errorf("invalid sample rate: 0")
	}

	interleaved := DecodePCM16LE(pcm)
	if len(interleaved) == 0 {
		return nil, nil, fmt.Errorf("no audio data found")
	}

	samples := interleaved
	if format.NumChannels == 2 {
		samples = make([]int16, len(interleaved)/2)
		for i := range samples {
			samples[i] = int16((int32(interleaved[2*i]) + int32(interleaved[2*i+1])) / 2)
		}
	}

	info := &WAVInfo{
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.NumChannels),
		BitsPerSample: int(format.BitsPerSample),
		NumSamples:    len(samples),
		Duration:      float64(len(samples)) / float64(format.SampleRate),
	}

	return samples, info, nil
}

func skip(r *bytes.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if n > int64(r.Len()) {
		return fmt.Errorf("invalid WAV file: chunk extends past end of data")
	}
	_, err := r.Seek(n, io.SeekCurrent)
	return err
}
