package audio

import (
	"testing"
	"time"
)

func TestDefaultFormat(t *testing.T) {
	t.Parallel()

	f := DefaultFormat
	if f.SampleRate != 16000 || f.Channels != 1 {
		t.Fatalf("DefaultFormat = %+v, want 16 kHz mono", f)
	}
	if got := f.FrameBytes(); got != 2 {
		t.Errorf("FrameBytes = %d, want 2", got)
	}
	if got := f.BytesPerSecond(); got != 32000 {
		t.Errorf("BytesPerSecond = %d, want 32000", got)
	}
}

func TestSliceBytesDefaultFormat(t *testing.T) {
	t.Parallel()

	f := DefaultFormat
	if got := f.SliceBytes(100 * time.Millisecond); got != 3200 {
		t.Errorf("SliceBytes(100ms) = %d, want 3200", got)
	}
	// Rounds down to a whole frame but never below one.
	if got := f.SliceBytes(time.Microsecond); got != f.FrameBytes() {
		t.Errorf("SliceBytes(1µs) = %d, want %d", got, f.FrameBytes())
	}
}

func TestDurationDefaultFormat(t *testing.T) {
	t.Parallel()

	f := DefaultFormat
	if got := f.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
	if got := (Format{}).Duration(100); got != 0 {
		t.Errorf("Duration with zero format = %v, want 0", got)
	}
}
