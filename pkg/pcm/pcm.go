// Package pcm converts between float sample frames and the signed 16-bit
// little-endian PCM carried by the conversational backend.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

// Standard sample rates on the wire.
const (
	CaptureRate  = 16000
	PlaybackRate = 24000
)

// CaptureMIME is the MIME type of outbound microphone audio.
const CaptureMIME = "audio/pcm;rate=16000"

// EncodeFrame converts float samples in [-1, 1] to int16 little-endian bytes.
// Out-of-range samples are clamped. Negative values scale by 32768 and
// non-negative values by 32767, truncating toward zero.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		} else if math.IsNaN(float64(s)) {
			s = 0
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodeFrame converts int16 little-endian bytes to float samples by
// dividing by 32768. A trailing odd byte is ignored.
func DecodeFrame(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// ToBase64 encodes bytes with standard base64.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// FromBase64 decodes standard base64.
func FromBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// RMS returns the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ParseRate extracts the rate parameter from a MIME type such as
// "audio/pcm;rate=24000". It returns fallback when absent or invalid.
func ParseRate(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
