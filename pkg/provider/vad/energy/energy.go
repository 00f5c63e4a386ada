// Package energy provides an RMS-based VAD engine with no external model
// dependencies. It classifies each frame by its root-mean-square amplitude
// against a pair of hysteresis thresholds and debounces transitions with
// consecutive-frame counters, so a door slam does not open a turn and a short
// breath pause does not close one.
//
// Classification uses the raw frame RMS so short transients age out of the
// counters within a frame or two; the energy score reported on each event is
// smoothed over a small ring buffer, which keeps downstream level meters from
// flickering.
//
// Thresholds are in RMS sample units (0–32767). Typical speech at a normal
// microphone distance lands well above 1000; room tone stays under 200.
package energy

import (
	"fmt"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/vad"
	"github.com/MrBloodrune/RealtimeSTT/pkg/types"
)

const (
	defaultSpeechThreshold  = 500.0
	defaultSilenceThreshold = 300.0
	defaultSampleRate       = 16000
	defaultFrameSizeMs      = 30

	// defaultStartFrames is how many consecutive speech frames are required
	// before a VADSpeechStart is emitted. 3 × 30ms = 90ms of sustained sound.
	defaultStartFrames = 3

	// defaultEndFrames is how many consecutive silent frames are required
	// before a VADSpeechEnd is emitted. 10 × 30ms = 300ms.
	defaultEndFrames = 10

	// defaultSmoothingFrames is the ring buffer length for the reported
	// energy score.
	defaultSmoothingFrames = 5
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Option is a functional option for the Engine.
type Option func(*Engine)

// WithStartFrames sets how many consecutive speech frames trigger a speech
// start.
func WithStartFrames(n int) Option {
	return func(e *Engine) {
		e.startFrames = n
	}
}

// WithEndFrames sets how many consecutive silent frames end a speech segment.
func WithEndFrames(n int) Option {
	return func(e *Engine) {
		e.endFrames = n
	}
}

// WithSmoothingFrames sets the ring buffer length used to smooth the reported
// energy score.
func WithSmoothingFrames(n int) Option {
	return func(e *Engine) {
		e.smoothingFrames = n
	}
}

// Engine implements vad.Engine using per-frame RMS classification.
type Engine struct {
	startFrames     int
	endFrames       int
	smoothingFrames int
}

// New creates an energy VAD engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		startFrames:     defaultStartFrames,
		endFrames:       defaultEndFrames,
		smoothingFrames: defaultSmoothingFrames,
	}
	for _, o := range opts {
		o(e)
	}
	if e.startFrames < 1 {
		return nil, fmt.Errorf("energy: startFrames must be at least 1, got %d", e.startFrames)
	}
	if e.endFrames < 1 {
		return nil, fmt.Errorf("energy: endFrames must be at least 1, got %d", e.endFrames)
	}
	if e.smoothingFrames < 1 {
		return nil, fmt.Errorf("energy: smoothingFrames must be at least 1, got %d", e.smoothingFrames)
	}
	return e, nil
}

// NewSession implements vad.Engine. Zero-value config fields fall back to
// 16 kHz, 30ms frames, and thresholds of 500/300 RMS units.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.FrameSizeMs == 0 {
		cfg.FrameSizeMs = defaultFrameSizeMs
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = defaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = defaultSilenceThreshold
	}

	if cfg.SampleRate < 0 {
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs < 0 {
		return nil, fmt.Errorf("energy: frame size must be positive, got %d", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SilenceThreshold < 0 {
		return nil, fmt.Errorf("energy: thresholds must not be negative")
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %.0f exceeds speech threshold %.0f",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	frameBytes := cfg.SampleRate * cfg.FrameSizeMs / 1000 * audio.BytesPerSample
	if frameBytes == 0 {
		return nil, fmt.Errorf("energy: sample rate %d with %dms frames yields empty frames",
			cfg.SampleRate, cfg.FrameSizeMs)
	}

	return &session{
		cfg:        cfg,
		frameBytes: frameBytes,
		recent:     make([]float64, e.smoothingFrames),
		startAfter: e.startFrames,
		endAfter:   e.endFrames,
	}, nil
}

// session holds the per-stream detection state.
type session struct {
	cfg        vad.Config
	frameBytes int

	startAfter int
	endAfter   int

	// recent is a ring buffer of raw RMS values for score smoothing.
	recent      []float64
	recentIdx   int
	recentCount int

	inSpeech     bool
	activeRun    int // consecutive speech-classified frames while silent
	inactiveRun  int // consecutive silence-classified frames while speaking
	lastWasVoice bool

	closed bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	if s.closed {
		return types.VADEvent{}, fmt.Errorf("energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return types.VADEvent{}, fmt.Errorf("energy: frame must be %d bytes, got %d", s.frameBytes, len(frame))
	}

	rms := audio.RMS(frame)
	score := s.smooth(rms)

	voice := s.classify(rms)
	s.lastWasVoice = voice

	if s.inSpeech {
		if voice {
			s.inactiveRun = 0
			return types.VADEvent{Type: types.VADSpeechContinue, Energy: score}, nil
		}
		s.inactiveRun++
		if s.inactiveRun >= s.endAfter {
			s.inSpeech = false
			s.inactiveRun = 0
			s.activeRun = 0
			return types.VADEvent{Type: types.VADSpeechEnd, Energy: score}, nil
		}
		// Still inside the hangover window; the segment is not over yet.
		return types.VADEvent{Type: types.VADSpeechContinue, Energy: score}, nil
	}

	if voice {
		s.activeRun++
		if s.activeRun >= s.startAfter {
			s.inSpeech = true
			s.activeRun = 0
			return types.VADEvent{Type: types.VADSpeechStart, Energy: score}, nil
		}
	} else {
		s.activeRun = 0
	}
	return types.VADEvent{Type: types.VADSilence, Energy: score}, nil
}

// classify maps a raw RMS value to voice/non-voice. Values inside the
// hysteresis band keep the previous frame's classification.
func (s *session) classify(rms float64) bool {
	switch {
	case rms >= s.cfg.SpeechThreshold:
		return true
	case rms <= s.cfg.SilenceThreshold:
		return false
	default:
		return s.lastWasVoice
	}
}

// smooth records rms in the ring buffer and returns the window mean.
func (s *session) smooth(rms float64) float64 {
	s.recent[s.recentIdx] = rms
	s.recentIdx = (s.recentIdx + 1) % len(s.recent)
	if s.recentCount < len(s.recent) {
		s.recentCount++
	}
	sum := 0.0
	for i := range s.recentCount {
		sum += s.recent[i]
	}
	return sum / float64(s.recentCount)
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	if s.closed {
		return
	}
	s.inSpeech = false
	s.activeRun = 0
	s.inactiveRun = 0
	s.lastWasVoice = false
	s.recentIdx = 0
	s.recentCount = 0
	for i := range s.recent {
		s.recent[i] = 0
	}
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.closed = true
	return nil
}
