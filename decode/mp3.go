package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always produces 16-bit little-endian stereo.
const mp3Channels = 2

func newMP3Reader(r io.Reader) (*mp3.Decoder, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrUnsupported, err)
	}
	return dec, nil
}

func decodeMP3(r io.Reader) (*PCM, error) {
	dec, err := newMP3Reader(r)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3: %w", err)
	}

	return &PCM{
		Samples:    bytesToSamples(data),
		Channels:   mp3Channels,
		SampleRate: dec.SampleRate(),
	}, nil
}

func bytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return samples
}
