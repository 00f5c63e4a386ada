// Package mock provides a configurable in-memory stt.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/stt"
)

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// StartStreamCall records a single StartStream invocation.
type StartStreamCall struct {
	Config stt.StreamConfig
}

// Provider is a mock stt.Provider. Configure Session before use; every
// StartStream call is recorded.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, a fresh Session with
	// open channels is created on first use.
	Session *Session

	// StartStreamErr, when set, is returned by StartStream.
	StartStreamErr error

	StartStreamCalls []StartStreamCall
}

// NewProvider returns a mock provider with a ready Session.
func NewProvider() *Provider {
	return &Provider{Session: NewSession()}
}

func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Config: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Reset clears recorded calls and configured errors.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.StartStreamErr = nil
}

// SendAudioCall records a single SendAudio invocation. Chunk is a copy of
// the caller's slice.
type SendAudioCall struct {
	Chunk []byte
}

// Session is a mock stt.SessionHandle. Tests push transcripts through
// PartialsCh and FinalsCh to simulate provider output.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// SendAudioErr, when set, is returned by SendAudio.
	SendAudioErr error
	// CloseErr, when set, is returned by Close.
	CloseErr error

	SendAudioCalls []SendAudioCall
	CloseCallCount int

	closeOnce sync.Once
}

// NewSession returns a Session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 64),
		FinalsCh:   make(chan stt.Transcript, 64),
	}
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// Close closes both transcript channels. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		close(s.PartialsCh)
		close(s.FinalsCh)
	})
	return err
}

// EmitPartial pushes an interim transcript to listeners.
func (s *Session) EmitPartial(text string) {
	s.PartialsCh <- stt.Transcript{Text: text, IsFinal: false}
}

// EmitFinal pushes a final transcript to listeners.
func (s *Session) EmitFinal(text string) {
	s.FinalsCh <- stt.Transcript{Text: text, IsFinal: true}
}

// ResetCalls clears recorded calls without touching channels.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.CloseCallCount = 0
}
