// Package sink provides playback sinks for synthesized speech audio.
//
// A sink accepts small PCM slices from the playback worker and delivers them
// to an output: the local audio device ([Device]), nowhere ([Null]), or a
// fan-out of several sinks ([Multi]). Reset drops any audio a sink has
// buffered but not yet delivered, so an interrupted utterance stops quickly
// instead of draining its buffer.
package sink

import "errors"

// Sink consumes PCM audio slices for playback.
type Sink interface {
	// Write delivers one slice of 16-bit little-endian PCM audio.
	Write(p []byte) error

	// Reset discards any buffered, not-yet-delivered audio.
	Reset()

	// Close releases the sink. Subsequent writes fail. Idempotent.
	Close() error
}

// Null is a Sink that discards all audio. Useful in tests and for headless
// servers that only stream audio to connected clients.
type Null struct{}

var _ Sink = Null{}

func (Null) Write(p []byte) error { return nil }
func (Null) Reset()               {}
func (Null) Close() error         { return nil }

// Multi fans audio out to several sinks. Writes go to every sink; errors are
// joined so one failing sink does not hide another.
type Multi struct {
	sinks []Sink
}

var _ Sink = (*Multi)(nil)

// NewMulti creates a fan-out sink over the given sinks. Nil entries are
// skipped so callers can pass optional sinks without checks.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Write delivers p to every sink and returns the joined errors, if any.
func (m *Multi) Write(p []byte) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset resets every sink.
func (m *Multi) Reset() {
	for _, s := range m.sinks {
		s.Reset()
	}
}

// Close closes every sink and returns the joined errors, if any.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
