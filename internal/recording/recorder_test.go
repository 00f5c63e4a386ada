package recording

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := New(t.TempDir(), "test-session", audio.DefaultFormat, "127.0.0.1:5000")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile %s: %v", path, err)
	}
	return string(data)
}

func TestNew_WritesSessionInfo(t *testing.T) {
	base := t.TempDir()
	r, err := New(base, "abc-123", audio.DefaultFormat, "192.168.1.10:9000")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if r.Dir() != filepath.Join(base, "abc-123") {
		t.Errorf("Dir() = %q", r.Dir())
	}
	info := readFile(t, filepath.Join(r.Dir(), "session_info.txt"))
	if !strings.Contains(info, "Session ID: abc-123") {
		t.Errorf("session_info missing session ID:\n%s", info)
	}
	if !strings.Contains(info, "Client Address: 192.168.1.10:9000") {
		t.Errorf("session_info missing client address:\n%s", info)
	}
	if !strings.Contains(info, "Start Time: ") {
		t.Errorf("session_info missing start time:\n%s", info)
	}
}

func TestAddUtterance_FlushesAudioToNumberedWAV(t *testing.T) {
	r := newTestRecorder(t)

	pcm := make([]byte, 3200) // 100ms of 16k mono s16le
	r.AddAudio(pcm[:1600])
	r.AddAudio(pcm[1600:])

	if err := r.AddUtterance("hello there"); err != nil {
		t.Fatalf("AddUtterance: %v", err)
	}

	wavPath := filepath.Join(r.Dir(), "audio_0001.wav")
	data, err := os.ReadFile(wavPath)
	if err != nil {
		t.Fatalf("expected %s: %v", wavPath, err)
	}
	// 44-byte RIFF header + all buffered PCM.
	if len(data) != 44+len(pcm) {
		t.Errorf("wav size = %d, want %d", len(data), 44+len(pcm))
	}
	if string(data[0:4]) != "RIFF" {
		t.Errorf("missing RIFF magic: %q", data[0:4])
	}

	// The buffer is cleared; a second utterance with no audio links no file.
	if err := r.AddUtterance("second line"); err != nil {
		t.Fatalf("AddUtterance second: %v", err)
	}
	entries := r.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].AudioFile != "audio_0001.wav" {
		t.Errorf("first AudioFile = %q", entries[0].AudioFile)
	}
	if entries[1].AudioFile != "" {
		t.Errorf("second AudioFile = %q, want empty (no buffered audio)", entries[1].AudioFile)
	}
	if entries[0].SentenceNumber != 1 || entries[1].SentenceNumber != 2 {
		t.Errorf("sentence numbers = %d, %d", entries[0].SentenceNumber, entries[1].SentenceNumber)
	}
}

func TestTranscriptionFiles(t *testing.T) {
	r := newTestRecorder(t)

	r.AddAudio(make([]byte, 320))
	if err := r.AddUtterance("what time is it"); err != nil {
		t.Fatalf("AddUtterance: %v", err)
	}
	if err := r.AddReply("It is almost noon."); err != nil {
		t.Fatalf("AddReply: %v", err)
	}

	txt := readFile(t, filepath.Join(r.Dir(), "transcription.txt"))
	if !strings.Contains(txt, "Sentence 1: what time is it") {
		t.Errorf("transcription.txt missing sentence:\n%s", txt)
	}
	if !strings.Contains(txt, "Audio: audio_0001.wav") {
		t.Errorf("transcription.txt missing audio link:\n%s", txt)
	}
	if !strings.Contains(txt, "Assistant: It is almost noon.") {
		t.Errorf("transcription.txt missing reply:\n%s", txt)
	}

	var entries []Entry
	raw := readFile(t, filepath.Join(r.Dir(), "transcription.json"))
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		t.Fatalf("transcription.json invalid: %v\n%s", err, raw)
	}
	if len(entries) != 2 {
		t.Fatalf("json entries = %d, want 2", len(entries))
	}
	if entries[0].Role != "user" || entries[1].Role != "assistant" {
		t.Errorf("roles = %q, %q", entries[0].Role, entries[1].Role)
	}
	if entries[1].SentenceNumber != 0 || entries[1].AudioFile != "" {
		t.Errorf("assistant entry carries utterance fields: %+v", entries[1])
	}
}

func TestClose_WritesSummary(t *testing.T) {
	r := newTestRecorder(t)

	r.AddAudio(make([]byte, 320))
	if err := r.AddUtterance("hello"); err != nil {
		t.Fatalf("AddUtterance: %v", err)
	}

	if err := r.Close("User said hello and nothing else happened."); err != nil {
		t.Fatalf("Close: %v", err)
	}

	summary := readFile(t, filepath.Join(r.Dir(), "summary.txt"))
	for _, want := range []string{
		"Session Summary",
		"Session ID: test-session",
		"Total Sentences: 1",
		"Audio Files: 1",
		"User said hello and nothing else happened.",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary.txt missing %q:\n%s", want, summary)
		}
	}

	// Recorder refuses further use after Close.
	if err := r.AddUtterance("late"); err == nil {
		t.Error("AddUtterance after Close: want error")
	}
	if err := r.Close(""); err == nil {
		t.Error("second Close: want error")
	}
}

func TestClose_FlushesTrailingAudio(t *testing.T) {
	r := newTestRecorder(t)

	// Audio arrived but no final transcript before the client disconnected.
	r.AddAudio(make([]byte, 640))
	if err := r.Close(""); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(r.Dir(), "audio_0001.wav")); err != nil {
		t.Errorf("trailing audio not flushed: %v", err)
	}
	summary := readFile(t, filepath.Join(r.Dir(), "summary.txt"))
	if !strings.Contains(summary, "Audio Files: 1") {
		t.Errorf("summary missing trailing audio count:\n%s", summary)
	}
}

func TestClose_EmptySummaryOmitsBody(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Close(""); err != nil {
		t.Fatalf("Close: %v", err)
	}
	summary := readFile(t, filepath.Join(r.Dir(), "summary.txt"))
	if !strings.HasSuffix(summary, "Audio Files: 0\n") {
		t.Errorf("stats-only summary should end with the stats block:\n%q", summary)
	}
}
