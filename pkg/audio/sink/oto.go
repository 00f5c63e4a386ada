package sink

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// maxBuffered bounds how much audio a Device holds ahead of the hardware.
// Keeping this small preserves the playback worker's interruption latency:
// audio that has not reached the device yet is dropped by Reset.
const maxBuffered = 200 * time.Millisecond

// Device plays audio through the system output device using oto.
//
// Write applies backpressure once maxBuffered of audio is queued, so the
// playback worker stays near real time instead of dumping a whole utterance
// into the buffer.
type Device struct {
	octx   *oto.Context
	player *oto.Player
	stream *pcmStream
}

var _ Sink = (*Device)(nil)

// NewDevice initializes the system audio output for the given format and
// starts a continuously running player. The player reads silence whenever no
// speech audio is buffered, which keeps the device stream warm between
// utterances.
func NewDevice(f audio.Format) (*Device, error) {
	op := &oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	octx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("sink: init audio context: %w", err)
	}
	<-ready

	stream := newPCMStream(f.SliceBytes(maxBuffered))
	player := octx.NewPlayer(stream)
	player.Play()

	return &Device{octx: octx, player: player, stream: stream}, nil
}

// Write queues p for playback, blocking while the buffer is full.
func (d *Device) Write(p []byte) error {
	return d.stream.push(p)
}

// Reset drops all buffered, not-yet-played audio.
func (d *Device) Reset() {
	d.stream.reset()
}

// Close stops playback and releases the device. Idempotent.
func (d *Device) Close() error {
	d.stream.close()
	return d.player.Close()
}

// errStreamClosed is returned by push after the stream is closed.
var errStreamClosed = errors.New("sink: device is closed")

// pcmStream is the bounded buffer between Write callers and the oto player.
// The player side reads continuously; when no audio is buffered it receives
// silence so the underlying stream never sees EOF until close.
type pcmStream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	max    int
	closed bool
}

func newPCMStream(max int) *pcmStream {
	s := &pcmStream{max: max}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// push appends p, waiting while the buffer is at capacity.
func (s *pcmStream) push(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.closed && len(s.buf)+len(p) > s.max && len(s.buf) > 0 {
		s.cond.Wait()
	}
	if s.closed {
		return errStreamClosed
	}
	s.buf = append(s.buf, p...)
	return nil
}

// reset drops everything buffered and wakes blocked writers.
func (s *pcmStream) reset() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
	s.cond.Broadcast()
}

// close marks the stream finished. The player receives EOF on its next read.
func (s *pcmStream) close() {
	s.mu.Lock()
	s.closed = true
	s.buf = nil
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Read implements io.Reader for the oto player. Buffered audio is returned
// first; an empty buffer yields silence.
func (s *pcmStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.EOF
	}
	if len(s.buf) == 0 {
		clear(p)
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	s.cond.Broadcast()
	return n, nil
}
