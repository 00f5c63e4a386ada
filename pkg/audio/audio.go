// Package audio defines the audio format model shared by the capture,
// transcription, synthesis, and playback stages.
//
// The whole pipeline runs on 16-bit signed little-endian PCM. A [Format]
// describes the sample rate and channel count of a stream; helpers convert
// between byte counts and durations so that components slicing audio for
// playback or buffering it for transcription agree on the arithmetic.
package audio

import "time"

// BytesPerSample is fixed at 2 for 16-bit signed little-endian PCM.
const BytesPerSample = 2

// Format describes the sample rate and channel count of a PCM audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the pipeline-wide default: 16 kHz mono, the rate expected
// by the STT providers and produced by the TTS providers.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// FrameBytes returns the size in bytes of one sample frame (all channels).
func (f Format) FrameBytes() int {
	return BytesPerSample * f.Channels
}

// BytesPerSecond returns the byte rate of a stream in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// SliceBytes returns the byte count corresponding to d of audio, rounded down
// to a whole sample frame. The result is never smaller than one frame so a
// positive duration always maps to at least one sample.
func (f Format) SliceBytes(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	frame := f.FrameBytes()
	n -= n % frame
	if n < frame {
		n = frame
	}
	return n
}

// Duration returns the playback duration of n bytes of audio in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}
