package whisper

import "github.com/MrBloodrune/RealtimeSTT/pkg/audio"

// segmenter accumulates PCM audio and decides when an utterance is complete.
// The server-backed and native sessions share it so both variants segment
// speech identically. It is not safe for concurrent use; each session confines
// its segmenter to the processing goroutine.
type segmenter struct {
	format audio.Format

	// rmsFloor is the energy level below which a chunk counts as silence,
	// in 16-bit PCM sample units.
	rmsFloor float64

	// thresholdMs is the consecutive post-speech silence that ends an utterance.
	thresholdMs int

	// maxBytes bounds the buffer during continuous speech; reaching it forces
	// a flush. Zero disables the bound.
	maxBytes int

	buf       []byte
	hadSpeech bool
	silenceMs int
}

func newSegmenter(f audio.Format, silenceThresholdMs, maxBufferMs int) *segmenter {
	bytesPerMs := f.BytesPerSecond() / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz mono 16-bit
	}
	return &segmenter{
		format:      f,
		rmsFloor:    defaultRMSThreshold,
		thresholdMs: silenceThresholdMs,
		maxBytes:    maxBufferMs * bytesPerMs,
	}
}

// feed adds one chunk and reports whether a completed utterance is ready to
// take. Leading silence before any speech is discarded; trailing silence is
// buffered so the transcription sees the utterance's natural decay.
func (g *segmenter) feed(chunk []byte) bool {
	chunkMs := int(g.format.Duration(len(chunk)).Milliseconds())

	if audio.RMS(chunk) < g.rmsFloor {
		if !g.hadSpeech {
			return false
		}
		g.silenceMs += chunkMs
		g.buf = append(g.buf, chunk...)
		return g.silenceMs >= g.thresholdMs
	}

	g.hadSpeech = true
	g.silenceMs = 0
	g.buf = append(g.buf, chunk...)
	return g.maxBytes > 0 && len(g.buf) >= g.maxBytes
}

// take returns the buffered utterance and resets the segmenter for the next
// one. It returns nil when nothing but silence was buffered.
func (g *segmenter) take() []byte {
	pcm := g.buf
	had := g.hadSpeech
	g.buf = nil
	g.hadSpeech = false
	g.silenceMs = 0
	if !had || len(pcm) == 0 {
		return nil
	}
	return pcm
}
