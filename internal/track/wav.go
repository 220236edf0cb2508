package track

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// ReadWAVFile decodes a PCM WAV file into a Track.
func ReadWAVFile(path string) (Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return Track{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Track{}, fmt.Errorf("decode wav %s: %w", path, err)
	}
	if !dec.WasPCMAccessed() || buf.Format == nil {
		return Track{}, fmt.Errorf("decode wav %s: no PCM data", path)
	}

	t := Track{
		Samples:    buf.Data,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}
	if err := t.Validate(); err != nil {
		return Track{}, fmt.Errorf("wav %s: %w", path, err)
	}
	return t, nil
}

// WriteWAVFile encodes a Track as 16-bit PCM WAV, creating parent
// directories as needed.
func WriteWAVFile(path string, t Track) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, t.SampleRate, wavBitDepth, t.Channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: t.Channels, SampleRate: t.SampleRate},
		Data:           t.Samples,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
