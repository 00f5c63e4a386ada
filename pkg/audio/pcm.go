package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square energy of 16-bit signed little-endian PCM,
// expressed in sample units (0–32767). Buffers shorter than one sample
// report 0. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Resample converts mono 16-bit signed little-endian PCM from one sample rate
// to another using linear interpolation. It is meant for modest rate changes
// such as 24 kHz synthesis output down to the 16 kHz pipeline rate; it does
// not apply an anti-aliasing filter. Equal rates return pcm unchanged.
func Resample(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	in := len(pcm) / BytesPerSample
	if in == 0 {
		return nil
	}
	out := int(int64(in) * int64(to) / int64(from))
	if out == 0 {
		return nil
	}

	res := make([]byte, out*BytesPerSample)
	ratio := float64(from) / float64(to)
	for i := 0; i < out; i++ {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= in-1 {
			last := binary.LittleEndian.Uint16(pcm[(in-1)*BytesPerSample:])
			binary.LittleEndian.PutUint16(res[i*BytesPerSample:], last)
			continue
		}
		frac := pos - float64(j)
		a := float64(int16(binary.LittleEndian.Uint16(pcm[j*BytesPerSample:])))
		b := float64(int16(binary.LittleEndian.Uint16(pcm[(j+1)*BytesPerSample:])))
		v := int16(math.Round(a + (b-a)*frac))
		binary.LittleEndian.PutUint16(res[i*BytesPerSample:], uint16(v))
	}
	return res
}
