package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrBloodrune/RealtimeSTT/pkg/audio"
)

// captureFrameMs is the microphone callback period. Matches the server's VAD
// frame size so inbound chunks slice cleanly.
const captureFrameMs = 30

// capture reads microphone PCM through miniaudio and forwards each callback
// buffer to the gateway. Muting keeps the device running but drops frames, so
// unmuting is instant.
type capture struct {
	allocCtx *malgo.AllocatedContext
	device   *malgo.Device

	muted atomic.Bool

	closeOnce sync.Once
}

// newCapture opens the default input device at the pipeline format and starts
// streaming. send is called from the audio thread; it must not block for long.
func newCapture(ctx context.Context, f audio.Format, send func([]byte) error) (*capture, error) {
	allocCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInFrames = uint32(f.SampleRate * captureFrameMs / 1000)
	cfg.Alsa.NoMMap = 1

	c := &capture{allocCtx: allocCtx}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if c.muted.Load() || ctx.Err() != nil {
				return
			}
			chunk := make([]byte, len(input))
			copy(chunk, input)
			go func() { _ = send(chunk) }()
		},
	}

	device, err := malgo.InitDevice(allocCtx.Context, cfg, callbacks)
	if err != nil {
		uninit(allocCtx)
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		uninit(allocCtx)
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	c.device = device
	return c, nil
}

// toggleMute flips the mute state and reports the new value.
func (c *capture) toggleMute() bool {
	for {
		cur := c.muted.Load()
		if c.muted.CompareAndSwap(cur, !cur) {
			return !cur
		}
	}
}

// close stops the device and releases miniaudio resources. Idempotent.
func (c *capture) close() {
	c.closeOnce.Do(func() {
		if c.device != nil {
			_ = c.device.Stop()
			// Give in-flight callbacks a moment to drain.
			time.Sleep(10 * time.Millisecond)
			c.device.Uninit()
		}
		uninit(c.allocCtx)
	})
}

func uninit(allocCtx *malgo.AllocatedContext) {
	_ = allocCtx.Uninit()
	allocCtx.Free()
}
