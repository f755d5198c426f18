// Package output delivers assembled call audio to files, sockets and S3.
package output

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"firestige.xyz/callx/internal/audio"
)

const waveHeaderLen = 44

// WaveWriter stores PCM audio as mono 16-bit 8 kHz WAV files.
// A file is written under a temporary name and renamed once complete.
type WaveWriter struct {
	dir string
}

func NewWaveWriter(dir string) *WaveWriter {
	return &WaveWriter{dir: dir}
}

// Dir returns the output directory.
func (w *WaveWriter) Dir() string { return w.dir }

// FileName returns the final name for base and direction.
func FileName(base string, callerAudio bool) string {
	if callerAudio {
		return base + "_caller.wav"
	}
	return base + "_callee.wav"
}

// Write stores pcm as FileName(base, pcm.CallerAudio) and returns its path.
// Empty audio leaves no file behind and returns "".
func (w *WaveWriter) Write(pcm *audio.PcmAudio, base string) (string, error) {
	tmp := filepath.Join(w.dir, "callx_"+uuid.NewString()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create wave file: %w", err)
	}

	size, err := writeWave(f, pcm)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil || size == 0 {
		_ = os.Remove(tmp)
		if err != nil {
			return "", fmt.Errorf("write wave file: %w", err)
		}
		return "", nil
	}

	final := filepath.Join(w.dir, FileName(base, pcm.CallerAudio))
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename wave file: %w", err)
	}
	return final, nil
}

func writeWave(f *os.File, pcm *audio.PcmAudio) (int64, error) {
	// placeholder, rewritten once the data size is known
	if _, err := f.Write(make([]byte, waveHeaderLen)); err != nil {
		return 0, err
	}
	size, err := pcm.WriteTo(f)
	if err != nil || size == 0 {
		return size, err
	}
	if _, err := f.WriteAt(waveHeader(uint32(size)), 0); err != nil {
		return size, err
	}
	return size, nil
}

// waveHeader builds the RIFF header for dataSize bytes of PCM.
func waveHeader(dataSize uint32) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
		blockAlign    = channels * bitsPerSample / 8
	)
	h := make([]byte, waveHeaderLen)
	le := binary.LittleEndian

	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:20], 16)
	le.PutUint16(h[20:22], 1) // PCM
	le.PutUint16(h[22:24], channels)
	le.PutUint32(h[24:28], audio.SampleRate)
	le.PutUint32(h[28:32], audio.SampleRate*blockAlign)
	le.PutUint16(h[32:34], blockAlign)
	le.PutUint16(h[34:36], bitsPerSample)

	copy(h[36:40], "data")
	le.PutUint32(h[40:44], dataSize)
	return h
}
