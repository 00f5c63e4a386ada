package sink

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// recordSink captures writes for assertions.
type recordSink struct {
	writes [][]byte
	resets int
	err    error
}

func (r *recordSink) Write(p []byte) error {
	r.writes = append(r.writes, bytes.Clone(p))
	return r.err
}
func (r *recordSink) Reset()       { r.resets++ }
func (r *recordSink) Close() error { return nil }

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a := &recordSink{}
	b := &recordSink{}
	m := NewMulti(a, nil, b)

	if err := m.Write([]byte{1, 2}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	m.Reset()

	if len(a.writes) != 1 || len(b.writes) != 1 {
		t.Fatalf("writes not fanned out: a=%d b=%d", len(a.writes), len(b.writes))
	}
	if a.resets != 1 || b.resets != 1 {
		t.Fatalf("resets not fanned out: a=%d b=%d", a.resets, b.resets)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a := &recordSink{err: boom}
	b := &recordSink{}
	m := NewMulti(a, b)

	err := m.Write([]byte{1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error containing boom, got %v", err)
	}
	if len(b.writes) != 1 {
		t.Fatal("second sink should still receive the write")
	}
}

func TestPCMStreamSilenceWhenEmpty(t *testing.T) {
	t.Parallel()

	s := newPCMStream(64)
	p := []byte{9, 9, 9, 9}
	n, err := s.Read(p)
	if err != nil || n != len(p) {
		t.Fatalf("Read = (%d, %v), want (%d, nil)", n, err, len(p))
	}
	for _, b := range p {
		if b != 0 {
			t.Fatal("empty stream should read as silence")
		}
	}
}

func TestPCMStreamDeliversPushedAudio(t *testing.T) {
	t.Parallel()

	s := newPCMStream(64)
	if err := s.push([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	p := make([]byte, 2)
	if n, _ := s.Read(p); n != 2 || p[0] != 1 || p[1] != 2 {
		t.Fatalf("first read = %v (n=%d)", p, n)
	}
	if n, _ := s.Read(p); n != 2 || p[0] != 3 || p[1] != 4 {
		t.Fatalf("second read = %v (n=%d)", p, n)
	}
}

func TestPCMStreamResetDropsBuffer(t *testing.T) {
	t.Parallel()

	s := newPCMStream(64)
	s.push([]byte{1, 2, 3, 4})
	s.reset()

	p := make([]byte, 4)
	s.Read(p)
	for _, b := range p {
		if b != 0 {
			t.Fatal("reset should drop buffered audio")
		}
	}
}

func TestPCMStreamCloseEndsReader(t *testing.T) {
	t.Parallel()

	s := newPCMStream(64)
	s.close()

	if _, err := s.Read(make([]byte, 4)); err != io.EOF {
		t.Fatalf("Read after close = %v, want io.EOF", err)
	}
	if err := s.push([]byte{1}); err == nil {
		t.Fatal("push after close should fail")
	}
}
