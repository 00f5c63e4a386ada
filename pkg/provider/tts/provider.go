// Package tts defines the text-to-speech provider abstraction. Assistant
// replies are synthesized into raw PCM and handed to the playback queue,
// which may cut them short when the user starts speaking again.
package tts

import (
	"context"

	"github.com/MrBloodrune/RealtimeSTT/pkg/types"
)

// Provider converts text into speech audio.
type Provider interface {
	// Synthesize renders text with the given voice and returns a channel of
	// raw PCM chunks (s16le, mono, at the pipeline sample rate). The channel
	// is closed when synthesis completes, fails mid-stream, or ctx is
	// cancelled. Audio starts flowing before the full utterance is rendered,
	// so playback can begin immediately.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
