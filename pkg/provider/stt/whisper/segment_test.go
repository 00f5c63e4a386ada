package whisper

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

// speechChunk generates ms milliseconds of 440 Hz sine audio whose RMS is
// well above defaultRMSThreshold.
func speechChunk(ms int) []byte {
	samples := 16 * ms
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// silenceChunk generates ms milliseconds of zero-valued audio.
func silenceChunk(ms int) []byte {
	return make([]byte, 16*ms*2)
}

func TestSegmenterSilenceOnlyNeverFlushes(t *testing.T) {
	g := newSegmenter(testFormat, 100, 10_000)
	for i := 0; i < 20; i++ {
		if g.feed(silenceChunk(50)) {
			t.Fatal("silence-only input requested a flush")
		}
	}
	if pcm := g.take(); pcm != nil {
		t.Errorf("take after silence-only input returned %d bytes, want nil", len(pcm))
	}
}

func TestSegmenterSpeechThenSilenceFlushes(t *testing.T) {
	g := newSegmenter(testFormat, 100, 10_000)
	if g.feed(speechChunk(100)) {
		t.Fatal("flush requested before any silence")
	}
	if !g.feed(silenceChunk(100)) {
		t.Fatal("expected flush after silence threshold")
	}
	pcm := g.take()
	if pcm == nil {
		t.Fatal("take returned nil after speech")
	}
	// Speech plus trailing silence: 200 ms at 32 bytes/ms.
	if len(pcm) != 200*32 {
		t.Errorf("utterance length = %d bytes, want %d", len(pcm), 200*32)
	}
}

func TestSegmenterLeadingSilenceDiscarded(t *testing.T) {
	g := newSegmenter(testFormat, 100, 10_000)
	g.feed(silenceChunk(500))
	g.feed(speechChunk(100))
	g.feed(silenceChunk(100))
	pcm := g.take()
	if len(pcm) != 200*32 {
		t.Errorf("utterance length = %d bytes, want %d (leading silence must not be buffered)", len(pcm), 200*32)
	}
}

func TestSegmenterSilenceCounterResetsOnSpeech(t *testing.T) {
	g := newSegmenter(testFormat, 100, 10_000)
	g.feed(speechChunk(50))
	if g.feed(silenceChunk(60)) {
		t.Fatal("flushed below silence threshold")
	}
	// Speech resumes: the silence counter must restart.
	g.feed(speechChunk(50))
	if g.feed(silenceChunk(60)) {
		t.Fatal("flushed although silence restarted from zero")
	}
	if !g.feed(silenceChunk(60)) {
		t.Fatal("expected flush once silence accumulated past the threshold")
	}
}

func TestSegmenterMaxBufferForcesFlush(t *testing.T) {
	// 200 ms cap; the silence threshold is effectively unreachable.
	g := newSegmenter(testFormat, 60_000, 200)
	if g.feed(speechChunk(150)) {
		t.Fatal("flushed before the buffer cap")
	}
	if !g.feed(speechChunk(100)) {
		t.Fatal("expected forced flush past the buffer cap")
	}
}

func TestSegmenterTakeResets(t *testing.T) {
	g := newSegmenter(testFormat, 100, 10_000)
	g.feed(speechChunk(100))
	g.feed(silenceChunk(100))
	if g.take() == nil {
		t.Fatal("first take returned nil")
	}
	if pcm := g.take(); pcm != nil {
		t.Errorf("second take returned %d bytes, want nil", len(pcm))
	}
	// The next utterance starts clean.
	if g.feed(silenceChunk(200)) {
		t.Error("silence after take requested a flush")
	}
}
