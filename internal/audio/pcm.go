package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToPCM16 converts samples in [-1, 1] to signed 16-bit PCM.
// Out-of-range input is clamped; negative values scale by 0x8000 and
// positive ones by 0x7fff so both ends of the range are reachable, and
// values are rounded so PCM16ToFloat32 output converts back exactly.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(math.Round(float64(s) * 0x8000))
		} else {
			out[i] = int16(math.Round(float64(s) * 0x7fff))
		}
	}
	return out
}

// PCM16ToFloat32 converts signed 16-bit PCM to samples in [-1, 1]
func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		if s < 0 {
			out[i] = float32(s) / 0x8000
		} else {
			out[i] = float32(s) / 0x7fff
		}
	}
	return out
}

// DecodePCM16LE reads little-endian 16-bit samples. A trailing odd byte
// is ignored.
func DecodePCM16LE(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}

// EncodePCM16LE writes samples as little-endian 16-bit PCM
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
