package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
	"github.com/MrBloodrune/RealtimeSTT/pkg/audio/sink"
)

const sendTimeout = 5 * time.Second

// serverEvent mirrors the gateway's outbound JSON envelope.
type serverEvent struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	Features  []string `json:"features,omitempty"`
	Text      string   `json:"text,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// connClosed is delivered to the UI when the websocket drops.
type connClosed struct{ err error }

// client owns the websocket connection and the playback path.
type client struct {
	conn    *websocket.Conn
	speaker *sink.Device
	format  audio.Format

	// dec is non-nil when the server sends Opus; packets are decoded back
	// to PCM before playback.
	dec       *gopus.Decoder
	decFrames int

	mu     sync.Mutex
	closed bool
}

// dial connects to the gateway and prepares the playback path.
func dial(ctx context.Context, addr string, f audio.Format, wireFormat string, speaker *sink.Device) (*client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, addr, nil)
	if err != nil {
		return nil, err
	}

	c := &client{conn: conn, speaker: speaker, format: f}
	if wireFormat == "opus" {
		dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "")
			return nil, fmt.Errorf("create opus decoder: %w", err)
		}
		c.dec = dec
		// 20ms packets, matching the server's encoder.
		c.decFrames = f.SampleRate / 50
	}
	return c, nil
}

// readLoop pumps server frames into the UI until the connection drops.
// Binary frames go straight to the speaker; text frames become tea messages.
func (c *client) readLoop(ctx context.Context, p *tea.Program) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			p.Send(connClosed{err: err})
			return
		}
		if typ == websocket.MessageBinary {
			c.play(data)
			continue
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type == "speech_interrupted" {
			// Drop buffered audio so the interruption is audible immediately.
			c.speaker.Reset()
		}
		p.Send(ev)
	}
}

// play queues one audio frame on the output device, decoding Opus first when
// the server is configured for it.
func (c *client) play(frame []byte) {
	pcm := frame
	if c.dec != nil {
		samples, err := c.dec.Decode(frame, c.decFrames, false)
		if err != nil {
			return
		}
		pcm = make([]byte, len(samples)*audio.BytesPerSample)
		for i, s := range samples {
			pcm[i*2] = byte(s)
			pcm[i*2+1] = byte(s >> 8)
		}
	}
	_ = c.speaker.Write(pcm)
}

// sendAudio streams one chunk of microphone PCM to the gateway.
func (c *client) sendAudio(pcm []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageBinary, pcm)
}

// sendControl marshals and sends one control message.
func (c *client) sendControl(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Control helpers used by the UI.

func (c *client) speak(text string) error {
	return c.sendControl(map[string]any{"type": "speak", "text": text})
}

func (c *client) interrupt() error {
	return c.sendControl(map[string]string{"type": "interrupt"})
}

func (c *client) setMode(mode string) error {
	return c.sendControl(map[string]string{"type": "set_mode", "mode": mode})
}

func (c *client) clearHistory() error {
	return c.sendControl(map[string]string{"type": "clear_history"})
}

func (c *client) stopSpeaking() error {
	return c.sendControl(map[string]string{"type": "stop_speaking"})
}

// close shuts the connection down. Idempotent.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
}
