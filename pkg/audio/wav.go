package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// riffHeaderSize is the fixed size of the canonical PCM WAV header:
// RIFF chunk descriptor (12) + fmt sub-chunk (24) + data sub-chunk header (8).
const riffHeaderSize = 44

// EncodeWAV writes pcm as a complete PCM WAV file to w. The data must be
// 16-bit signed little-endian samples in the given format.
func EncodeWAV(w io.Writer, f Format, pcm []byte) error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("audio: encode wav: invalid format %+v", f)
	}

	var header [riffHeaderSize]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(riffHeaderSize-8+len(pcm)))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(header[32:34], uint16(f.FrameBytes()))
	binary.LittleEndian.PutUint16(header[34:36], BytesPerSample*8)

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("audio: encode wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: encode wav data: %w", err)
	}
	return nil
}

// WriteWAVFile writes pcm as a WAV file at path, creating or truncating it.
func WriteWAVFile(path string, f Format, pcm []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}
	if err := EncodeWAV(file, f, pcm); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audio: close %q: %w", path, err)
	}
	return nil
}
