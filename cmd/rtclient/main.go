// Command rtclient is a terminal client for the realtime voice assistant
// server. It streams microphone audio to the gateway, plays assistant speech
// on the local output device, and shows the conversation in a TUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
	"github.com/MrBloodrune/RealtimeSTT/pkg/audio/sink"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", "ws://localhost:9999/ws", "gateway websocket URL")
	format := flag.String("format", "pcm", "audio format the server sends (pcm or opus); must match the server's audio.wire_format")
	sampleRate := flag.Int("rate", 16000, "PCM sample rate; must match the server's audio.sample_rate")
	noMic := flag.Bool("no-mic", false, "disable microphone capture (typed input only)")
	flag.Parse()

	if *format != "pcm" && *format != "opus" {
		fmt.Fprintf(os.Stderr, "rtclient: unknown format %q\n", *format)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pcmFormat := audio.Format{SampleRate: *sampleRate, Channels: 1}

	speaker, err := sink.NewDevice(pcmFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtclient: open output device: %v\n", err)
		return 1
	}
	defer speaker.Close()

	c, err := dial(ctx, *addr, pcmFormat, *format, speaker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtclient: connect %s: %v\n", *addr, err)
		return 1
	}
	defer c.close()

	var mic *capture
	if !*noMic {
		mic, err = newCapture(ctx, pcmFormat, c.sendAudio)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rtclient: open microphone: %v\n", err)
			return 1
		}
		defer mic.close()
	}

	p := tea.NewProgram(newModel(c, mic, *addr), tea.WithAltScreen(), tea.WithContext(ctx))
	go c.readLoop(ctx, p)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "rtclient: %v\n", err)
		return 1
	}
	return 0
}
