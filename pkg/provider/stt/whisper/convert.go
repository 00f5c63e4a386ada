package whisper

import "encoding/binary"

// monoFloat32 converts 16-bit signed little-endian PCM to float32 samples in
// the range [-1.0, 1.0), down-mixing multi-channel audio by averaging the
// channels of each frame. A trailing partial frame is silently ignored.
func monoFloat32(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[idx:]))) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}
