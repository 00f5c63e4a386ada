package coordinator

import (
	"sync"
	"time"

	"github.com/MrBloodrune/RealtimeSTT/internal/playback"
)

// Pace classifies how quickly the assistant has been responding. It scales
// the silence threshold used to decide when a user turn has ended: fast
// responses earn a shorter wait, slow ones a longer grace period.
type Pace int

const (
	PaceNormal Pace = iota
	PaceFast
	PaceSlow
)

func (p Pace) String() string {
	switch p {
	case PaceFast:
		return "fast"
	case PaceSlow:
		return "slow"
	default:
		return "normal"
	}
}

// multiplier returns the silence-threshold scaling factor for the pace.
func (p Pace) multiplier() float64 {
	switch p {
	case PaceFast:
		return 0.7
	case PaceSlow:
		return 1.3
	default:
		return 1.0
	}
}

const (
	// fastLatency and slowLatency are the response-latency boundaries that
	// move the pace to fast resp. slow.
	fastLatency = 500 * time.Millisecond
	slowLatency = 1500 * time.Millisecond

	// minSilenceThreshold and maxSilenceThreshold bound the scaled silence
	// threshold so pace adaptation can never make the assistant jump in
	// mid-word or stall indefinitely.
	minSilenceThreshold = 300 * time.Millisecond
	maxSilenceThreshold = 3 * time.Second
)

// interrupter is the slice of the playback queue the tracker needs.
type interrupter interface {
	Interrupt(playback.InterruptReason)
}

// TurnTracker follows whether the user is currently speaking and decides
// when enough silence has passed for the assistant to take its turn. It is
// driven exclusively by voice-activity events.
type TurnTracker struct {
	queue interrupter

	mu            sync.Mutex
	speaking      bool
	lastSpeechEnd time.Time
	pace          Pace

	now func() time.Time
}

// NewTurnTracker creates a tracker that stops assistant playback through
// queue whenever user speech starts.
func NewTurnTracker(queue interrupter) *TurnTracker {
	return &TurnTracker{
		queue: queue,
		pace:  PaceNormal,
		now:   time.Now,
	}
}

// OnVoiceActivityStart marks the user as speaking and interrupts assistant
// playback. The interrupt is issued regardless of what is playing; the queue
// no-ops when idle.
func (t *TurnTracker) OnVoiceActivityStart() {
	t.mu.Lock()
	t.speaking = true
	t.mu.Unlock()

	t.queue.Interrupt(playback.ReasonVoiceActivity)
}

// OnVoiceActivityStop marks the user as silent and records when their speech
// ended.
func (t *TurnTracker) OnVoiceActivityStop() {
	t.mu.Lock()
	t.speaking = false
	t.lastSpeechEnd = t.now()
	t.mu.Unlock()
}

// UserSpeaking reports whether a user utterance is in progress.
func (t *TurnTracker) UserSpeaking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speaking
}

// Pace returns the current response pace classification.
func (t *TurnTracker) Pace() Pace {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pace
}

// ShouldRespond reports whether the assistant may speak now: the user is not
// speaking and the silence since their last speech end exceeds base scaled by
// the pace multiplier. The scaled threshold is clamped to
// [minSilenceThreshold, maxSilenceThreshold]. Before any speech has been
// observed it returns true whenever the user is not speaking.
//
// The method only reads tracker state; calling it has no side effects.
func (t *TurnTracker) ShouldRespond(base time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.speaking {
		return false
	}
	if t.lastSpeechEnd.IsZero() {
		return true
	}

	threshold := time.Duration(float64(base) * t.pace.multiplier())
	if threshold < minSilenceThreshold {
		threshold = minSilenceThreshold
	}
	if threshold > maxSilenceThreshold {
		threshold = maxSilenceThreshold
	}

	return t.now().Sub(t.lastSpeechEnd) > threshold
}

// RecordResponseLatency reclassifies the pace from the latency of the most
// recent assistant response: under 500ms is fast, over 1.5s is slow,
// anything between is normal.
func (t *TurnTracker) RecordResponseLatency(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case d < fastLatency:
		t.pace = PaceFast
	case d > slowLatency:
		t.pace = PaceSlow
	default:
		t.pace = PaceNormal
	}
}
