package audioio

// Resample converts audio from one sample rate to another using linear interpolation.
// This is a simple resampler suitable for speech audio.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	if len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)

	if newLen == 0 {
		return []float32{}
	}

	result := make([]float32, newLen)

	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			s1 := samples[srcIdx]
			s2 := samples[srcIdx+1]
			result[i] = s1 + frac*(s2-s1)
		}
	}

	return result
}

// DownmixToMono averages interleaved channels into a mono signal.
func DownmixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// ToMono returns the chunk downmixed and resampled to mono at rate.
func ToMono(c AudioChunk, rate int) AudioChunk {
	samples := DownmixToMono(c.Samples, c.Channels)
	samples = Resample(samples, c.SampleRate, rate)
	return AudioChunk{Samples: samples, SampleRate: rate, Channels: 1}
}

// Int16ToFloat converts PCM16 samples to floats in [-1, 1).
func Int16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}
