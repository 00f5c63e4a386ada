package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
	"layeh.com/gopus"
)

// opusFrameMs is the Opus packet duration. 20ms is the codec's sweet spot
// and what every mainstream Opus stack expects.
const opusFrameMs = 20

// opusEncoder packetizes a PCM byte stream into fixed-duration Opus frames.
// PCM that does not fill a whole frame is carried over to the next encode
// call; flush pads and emits the remainder at the end of an utterance.
//
// Safe for concurrent use: the playback worker encodes while an interrupting
// goroutine may reset.
type opusEncoder struct {
	mu         sync.Mutex
	enc        *gopus.Encoder
	frameBytes int
	samples    int
	channels   int
	rem        []byte
}

// newOpusEncoder creates an encoder for the pipeline format. bitrate 0 keeps
// the codec default.
func newOpusEncoder(f audio.Format, bitrate int) (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("gateway: create opus encoder: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	frameBytes := f.SliceBytes(opusFrameMs * time.Millisecond)
	return &opusEncoder{
		enc:        enc,
		frameBytes: frameBytes,
		samples:    frameBytes / (audio.BytesPerSample * f.Channels),
		channels:   f.Channels,
	}, nil
}

// encode consumes pcm and returns zero or more complete Opus packets.
func (e *opusEncoder) encode(pcm []byte) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rem = append(e.rem, pcm...)

	var packets [][]byte
	for len(e.rem) >= e.frameBytes {
		pkt, err := e.encodeFrameLocked(e.rem[:e.frameBytes])
		if err != nil {
			return nil, err
		}
		e.rem = e.rem[e.frameBytes:]
		packets = append(packets, pkt)
	}
	return packets, nil
}

// flush pads the carried-over remainder with silence and emits it as one
// final packet. Returns nil when nothing is buffered.
func (e *opusEncoder) flush() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.rem) == 0 {
		return nil, nil
	}
	frame := make([]byte, e.frameBytes)
	copy(frame, e.rem)
	e.rem = nil
	return e.encodeFrameLocked(frame)
}

// reset drops any carried-over PCM. Called on interruption so the next
// utterance does not start with the tail of the previous one.
func (e *opusEncoder) reset() {
	e.mu.Lock()
	e.rem = nil
	e.mu.Unlock()
}

// encodeFrameLocked encodes exactly one frame of PCM. Must be called with
// e.mu held.
func (e *opusEncoder) encodeFrameLocked(frame []byte) ([]byte, error) {
	samples := make([]int16, len(frame)/audio.BytesPerSample)
	for i := range samples {
		samples[i] = int16(frame[i*2]) | int16(frame[i*2+1])<<8
	}
	pkt, err := e.enc.Encode(samples, e.samples, len(frame))
	if err != nil {
		return nil, fmt.Errorf("gateway: opus encode: %w", err)
	}
	return pkt, nil
}
