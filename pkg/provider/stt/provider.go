// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription engine (the Deepgram streaming API or
// a local whisper.cpp model) and exposes a uniform streaming interface. The
// central abstraction is SessionHandle: once opened, a session accepts raw
// PCM audio and emits two streams of Transcript values — low-latency partials
// that drive live caption updates, and authoritative finals that feed the
// conversation coordinator.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// transcription session. All fields must be compatible with what the
// underlying provider supports.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The pipeline default is
	// 16000, which every supported backend accepts.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// backends). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en",
	// "de-DE"). An empty string uses the provider default.
	Language string
}

// SessionHandle represents an open streaming transcription session. It is an
// interface so that test code can substitute mock implementations without a
// live provider connection.
//
// Callers must call Close when the session is no longer needed; failing to do
// so may leak goroutines and network connections inside the provider. All
// methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes for transcription.
	// The chunk must match the SampleRate, Channels, and 16-bit depth agreed
	// in StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel emitting low-latency interim
	// Transcript values as the provider makes preliminary guesses. They are
	// suitable for UI display but must not enter the conversation history.
	// The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel emitting authoritative Transcript
	// values once the provider has committed to a result. These are the
	// values handed to the conversation coordinator.
	// The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Partials and Finals
	// channels will be closed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously, one per connected client.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure or ctx already cancelled). The caller owns the
	// SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
