// Package recording persists session artifacts to disk.
//
// Each session gets its own directory under the configured base directory:
//
//	<dir>/<session-id>/
//	    session_info.txt     session ID, start time, client address
//	    audio_0001.wav       one WAV per finalized user utterance
//	    transcription.txt    human-readable conversation log
//	    transcription.json   structured conversation log
//	    summary.txt          stats + LLM summary, written on close
//
// The recorder buffers raw PCM as it arrives and flushes the buffer to a
// numbered WAV file whenever a user utterance is finalized, so each WAV holds
// exactly the audio that produced its transcript line.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
)

// Entry is one line of the recorded conversation.
type Entry struct {
	// Timestamp is when the line was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Role is who produced the line ("user" or "assistant").
	Role string `json:"role"`

	// Text is the transcript or reply text.
	Text string `json:"text"`

	// SentenceNumber counts finalized user utterances from 1. Zero for
	// assistant lines.
	SentenceNumber int `json:"sentence_number,omitempty"`

	// AudioFile is the WAV file holding this utterance's audio, relative to
	// the session directory. Empty for assistant lines and utterances that
	// arrived without audio.
	AudioFile string `json:"audio_file,omitempty"`
}

// Recorder writes one session's artifacts. All methods are safe for
// concurrent use; Close must be the last call.
type Recorder struct {
	mu sync.Mutex

	sessionID string
	dir       string
	format    audio.Format
	startTime time.Time

	audioBuf   []byte
	entries    []Entry
	sentences  int
	audioFiles int
	closed     bool
}

// New creates the session directory under baseDir and writes
// session_info.txt. remoteAddr identifies the connected client and may be
// empty.
func New(baseDir, sessionID string, format audio.Format, remoteAddr string) (*Recorder, error) {
	dir := filepath.Join(baseDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording: create session dir: %w", err)
	}

	r := &Recorder{
		sessionID: sessionID,
		dir:       dir,
		format:    format,
		startTime: time.Now(),
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session ID: %s\n", sessionID)
	fmt.Fprintf(&sb, "Start Time: %s\n", r.startTime.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Client Address: %s\n", remoteAddr)
	if err := os.WriteFile(filepath.Join(dir, "session_info.txt"), []byte(sb.String()), 0o644); err != nil {
		return nil, fmt.Errorf("recording: write session info: %w", err)
	}
	return r, nil
}

// Dir returns the session directory path.
func (r *Recorder) Dir() string { return r.dir }

// AddAudio appends raw PCM to the pending utterance buffer.
func (r *Recorder) AddAudio(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.audioBuf = append(r.audioBuf, pcm...)
}

// AddUtterance records a finalized user utterance. The pending audio buffer
// is flushed to the next numbered WAV file and linked to the entry, then
// cleared so the next utterance starts fresh.
func (r *Recorder) AddUtterance(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recording: recorder closed")
	}

	r.sentences++
	audioFile, err := r.flushAudioLocked()
	if err != nil {
		return err
	}

	entry := Entry{
		Timestamp:      time.Now(),
		Role:           "user",
		Text:           text,
		SentenceNumber: r.sentences,
		AudioFile:      audioFile,
	}
	r.entries = append(r.entries, entry)

	line := fmt.Sprintf("\n[%s] Sentence %d: %s\n", entry.Timestamp.Format(time.RFC3339), entry.SentenceNumber, text)
	if audioFile != "" {
		line += fmt.Sprintf("   Audio: %s\n", audioFile)
	}
	if err := r.appendTranscriptLocked(line); err != nil {
		return err
	}
	return r.writeJSONLocked()
}

// AddReply records an assistant reply.
func (r *Recorder) AddReply(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recording: recorder closed")
	}

	entry := Entry{
		Timestamp: time.Now(),
		Role:      "assistant",
		Text:      text,
	}
	r.entries = append(r.entries, entry)

	line := fmt.Sprintf("\n[%s] Assistant: %s\n", entry.Timestamp.Format(time.RFC3339), text)
	if err := r.appendTranscriptLocked(line); err != nil {
		return err
	}
	return r.writeJSONLocked()
}

// Entries returns a copy of the recorded conversation so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Close flushes any buffered audio and writes summary.txt. summary is the
// LLM-generated conversation summary; pass "" when none was produced and
// only the session stats are written. Calling Close twice is an error.
func (r *Recorder) Close(summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recording: recorder closed")
	}
	r.closed = true

	// Trailing audio that never got a final transcript still gets saved.
	if _, err := r.flushAudioLocked(); err != nil {
		return err
	}

	endTime := time.Now()
	var sb strings.Builder
	sb.WriteString("Session Summary\n")
	sb.WriteString("===============\n")
	fmt.Fprintf(&sb, "Session ID: %s\n", r.sessionID)
	fmt.Fprintf(&sb, "Start Time: %s\n", r.startTime.Format(time.RFC3339))
	fmt.Fprintf(&sb, "End Time: %s\n", endTime.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Duration: %.2f seconds\n", endTime.Sub(r.startTime).Seconds())
	fmt.Fprintf(&sb, "Total Sentences: %d\n", r.sentences)
	fmt.Fprintf(&sb, "Audio Files: %d\n", r.audioFiles)
	if summary != "" {
		sb.WriteString("\n")
		sb.WriteString(summary)
		sb.WriteString("\n")
	}

	if err := os.WriteFile(filepath.Join(r.dir, "summary.txt"), []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("recording: write summary: %w", err)
	}
	return nil
}

// flushAudioLocked writes the pending audio buffer to the next numbered WAV
// file and clears the buffer. Returns the file name, or "" when the buffer
// was empty. Caller must hold r.mu.
func (r *Recorder) flushAudioLocked() (string, error) {
	if len(r.audioBuf) == 0 {
		return "", nil
	}

	r.audioFiles++
	name := fmt.Sprintf("audio_%04d.wav", r.audioFiles)
	if err := audio.WriteWAVFile(filepath.Join(r.dir, name), r.format, r.audioBuf); err != nil {
		return "", fmt.Errorf("recording: %w", err)
	}
	r.audioBuf = r.audioBuf[:0]
	return name, nil
}

// appendTranscriptLocked appends line to transcription.txt. Caller must hold r.mu.
func (r *Recorder) appendTranscriptLocked(line string) error {
	f, err := os.OpenFile(filepath.Join(r.dir, "transcription.txt"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("recording: open transcript: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("recording: append transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("recording: close transcript: %w", err)
	}
	return nil
}

// writeJSONLocked rewrites transcription.json with all entries so far, so
// the file is a valid JSON array after every update. Caller must hold r.mu.
func (r *Recorder) writeJSONLocked() error {
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("recording: marshal transcript: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, "transcription.json"), data, 0o644); err != nil {
		return fmt.Errorf("recording: write transcript json: %w", err)
	}
	return nil
}
