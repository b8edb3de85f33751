package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Synthesizer defines the interface for text-to-speech synthesis. Chunks are
// parts of one WAV file; the channel is closed when synthesis ends.
type Synthesizer interface {
	SynthesizeToStream(ctx context.Context, text string, options SynthesisOptions, audioData chan<- []byte) error
	Close() error
}

// SynthesisOptions represents the configuration for speech synthesis
type SynthesisOptions struct {
	Voice  string
	Speed  float64
	Volume float64
	Model  string
}

func GetDefaultSynthesisOptions() SynthesisOptions {
	return SynthesisOptions{
		Voice:  "marina",
		Speed:  1.0,
		Volume: 0.0,
		Model:  "general",
	}
}

// Renderer turns instruction text into cached WAV files.
type Renderer struct {
	synth   Synthesizer
	dir     string
	options SynthesisOptions
	logger  *log.Logger

	mu sync.Mutex
}

func NewRenderer(synth Synthesizer, dir string, options SynthesisOptions, logger *log.Logger) *Renderer {
	if logger == nil {
		logger = log.Default()
	}
	return &Renderer{synth: synth, dir: dir, options: options, logger: logger}
}

// Path returns the cache file for text under the renderer's options.
func (r *Renderer) Path(text string) string {
	h := sha256.New()
	for _, part := range []string{
		r.options.Model,
		r.options.Voice,
		strconv.FormatFloat(r.options.Speed, 'f', -1, 64),
		strconv.FormatFloat(r.options.Volume, 'f', -1, 64),
		text,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return filepath.Join(r.dir, hex.EncodeToString(h.Sum(nil))[:24]+".wav")
}

// Render returns the path of a WAV file speaking text, synthesizing it on a
// cache miss.
func (r *Renderer) Render(ctx context.Context, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.Path(text)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to check tts cache: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create tts cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(r.dir, "render-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create tts file: %w", err)
	}
	defer os.Remove(tmp.Name())

	chunks := make(chan []byte, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- r.synth.SynthesizeToStream(ctx, text, r.options, chunks)
	}()

	var (
		written  int
		writeErr error
	)
	for chunk := range chunks {
		if writeErr != nil {
			continue
		}
		n, err := tmp.Write(chunk)
		written += n
		writeErr = err
	}
	synthErr := <-errc

	if err := tmp.Close(); err != nil && writeErr == nil {
		writeErr = err
	}
	switch {
	case synthErr != nil:
		return "", fmt.Errorf("failed to synthesize speech: %w", synthErr)
	case writeErr != nil:
		return "", fmt.Errorf("failed to write tts file: %w", writeErr)
	case written == 0:
		return "", errors.New("synthesizer returned no audio")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store tts file: %w", err)
	}
	r.logger.Printf("[TTS] rendered %q to %s (%d bytes)", text, path, written)
	return path, nil
}
