package pcm

import (
	"bytes"
	"math"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"clamp high", 1.5, 32767},
		{"clamp low", -2, -32768},
		{"half", 0.5, 16383},
		{"negative half", -0.5, -16384},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := EncodeFrame([]float32{tt.in})
			if len(out) != 2 {
				t.Fatalf("expected 2 bytes, got %d", len(out))
			}
			got := int16(uint16(out[0]) | uint16(out[1])<<8)
			if got != tt.want {
				t.Errorf("EncodeFrame(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	in := make([]float32, 4096)
	for i := range in {
		in[i] = float32(math.Sin(float64(i)*0.01)) * 0.9
	}
	in[0] = 1
	in[1] = -1

	out := DecodeFrame(EncodeFrame(in))
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 1.0/32768+1e-7 {
			t.Fatalf("sample %d: %v -> %v (diff %v)", i, in[i], out[i], diff)
		}
	}
}

func TestDecodeFrame(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if got := DecodeFrame(nil); len(got) != 0 {
			t.Errorf("expected empty, got %d samples", len(got))
		}
		if got := EncodeFrame(nil); len(got) != 0 {
			t.Errorf("expected empty, got %d bytes", len(got))
		}
	})

	t.Run("odd trailing byte ignored", func(t *testing.T) {
		got := DecodeFrame([]byte{0x00, 0x80, 0x7F})
		if len(got) != 1 || got[0] != -1 {
			t.Errorf("got %v", got)
		}
	})
}

func TestBase64RoundTrip(t *testing.T) {
	data := make([]byte, 257)
	for i := range data {
		data[i] = byte(i)
	}
	got, err := FromBase64(ToBase64(data))
	if err != nil {
		t.Fatalf("FromBase64: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("base64 round trip mismatch")
	}

	if _, err := FromBase64("not base64!"); err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("RMS of empty should be 0")
	}
	if got := RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=24000", 24000},
		{"audio/pcm; rate=16000", 16000},
		{"audio/pcm", 24000},
		{"audio/pcm;rate=abc", 24000},
		{"", 24000},
	}
	for _, tt := range tests {
		if got := ParseRate(tt.mime, PlaybackRate); got != tt.want {
			t.Errorf("ParseRate(%q) = %d, want %d", tt.mime, got, tt.want)
		}
	}
}
