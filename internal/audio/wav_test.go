package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 16kHz
	sampleRate := 16000
	numSamples := sampleRate / 10
	samples := make([]int16, numSamples)
	for i := range samples {
		samples[i] = int16(16383 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := wavHeaderSize + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	decoded, info, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if info.SampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("Expected mono 16-bit, got %d channels, %d bits", info.Channels, info.BitsPerSample)
	}

	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}

	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("Sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	if _, err := EncodeWAV([]int16{}, 8000); err == nil {
		t.Error("Expected error for empty samples")
	}

	samples := []int16{100, 200, 300}
	if _, err := EncodeWAV(samples, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}

	if _, err := EncodeWAV(samples, -1000); err == nil {
		t.Error("Expected error for negative sample rate")
	}
}

// buildWAV assembles a RIFF file from raw chunks
func buildWAV(chunks ...[]byte) []byte {
	var body bytes.Buffer
	body.WriteString("WAVE")
	for _, c := range chunks {
		body.Write(c)
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func riffChunk(id string, payload []byte) []byte {
	var b bytes.Buffer
	b.WriteString(id)
	binary.Write(&b, binary.LittleEndian, uint32(len(payload)))
	b.Write(payload)
	if len(payload)%2 == 1 {
		b.WriteByte(0)
	}
	return b.Bytes()
}

func fmtChunk(format, channels uint16, sampleRate uint32, bits uint16) []byte {
	var b bytes.Buffer
	blockAlign := channels * bits / 8
	binary.Write(&b, binary.LittleEndian, wavFormat{
		AudioFormat:   format,
		NumChannels:   channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: bits,
	})
	return riffChunk("fmt ", b.Bytes())
}

func TestDecodeWAVSkipsExtraChunks(t *testing.T) {
	data := buildWAV(
		riffChunk("LIST", []byte("INFOISFT\x05\x00\x00\x00Lavf\x00")),
		fmtChunk(1, 1, 8000, 16),
		riffChunk("data", EncodePCM16LE([]int16{1, -2, 3})),
	)

	samples, info, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(samples) != 3 || samples[1] != -2 {
		t.Errorf("Unexpected samples %v", samples)
	}
	if info.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", info.SampleRate)
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	data := buildWAV(
		fmtChunk(1, 2, 44100, 16),
		riffChunk("data", EncodePCM16LE([]int16{100, 300, -1000, 1000, 32767, 32767})),
	)

	samples, info, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	expected := []int16{200, 0, 32767}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(samples))
	}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], samples[i])
		}
	}
	if info.Channels != 2 || info.NumSamples != 3 {
		t.Errorf("Unexpected info %+v", info)
	}
}

func TestDecodeWAVErrors(t *testing.T) {
	pcm := riffChunk("data", EncodePCM16LE([]int16{1, 2}))

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{1, 2, 3}},
		{"not riff", append([]byte("FAKE\x00\x00\x00\x00WAVE"), pcm...)},
		{"not wave", append([]byte("RIFF\x00\x00\x00\x00AVI "), pcm...)},
		{"missing fmt", buildWAV(pcm)},
		{"missing data", buildWAV(fmtChunk(1, 1, 8000, 16))},
		{"float format", buildWAV(fmtChunk(3, 1, 8000, 32), pcm)},
		{"8 bit", buildWAV(fmtChunk(1, 1, 8000, 8), pcm)},
		{"surround", buildWAV(fmtChunk(1, 6, 8000, 16), pcm)},
		{"zero rate", buildWAV(fmtChunk(1, 1, 0, 16), pcm)},
		{"truncated chunk", buildWAV(fmtChunk(1, 1, 8000, 16), []byte("LIST\xff\x00\x00\x00ab"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestPCMConversion(t *testing.T) {
	floats := []float32{-1.5, -1, -0.5, 0, 0.5, 1, 2}
	pcm := Float32ToPCM16(floats)

	expected := []int16{-32768, -32768, -16384, 0, 16384, 32767, 32767}
	for i := range expected {
		if pcm[i] != expected[i] {
			t.Errorf("Sample %d (%v): expected %d, got %d", i, floats[i], expected[i], pcm[i])
		}
	}

	back := PCM16ToFloat32([]int16{-32768, 0, 32767})
	if back[0] != -1 || back[1] != 0 || back[2] != 1 {
		t.Errorf("Expected full-scale round trip, got %v", back)
	}

	for v := -32768; v <= 32767; v += 7 {
		if got := Float32ToPCM16(PCM16ToFloat32([]int16{int16(v)}))[0]; got != int16(v) {
			t.Fatalf("Expected %d to survive conversion, got %d", v, got)
		}
	}

	raw := EncodePCM16LE([]int16{-2, 258})
	if !bytes.Equal(raw, []byte{0xfe, 0xff, 0x02, 0x01}) {
		t.Errorf("Unexpected little-endian bytes %v", raw)
	}

	decoded := DecodePCM16LE(append(raw, 0x7f))
	if len(decoded) != 2 || decoded[0] != -2 || decoded[1] != 258 {
		t.Errorf("Unexpected decoded samples %v", decoded)
	}
}
