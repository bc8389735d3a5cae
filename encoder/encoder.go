// Package encoder turns raw PCM16 capture buffers into the container
// formats the analyzer accepts: WAV for streamed segments, FLAC for the
// batch upload path.
package encoder

import "fmt"

// Capture profile shared by the capture backends and both encoders.
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
}

// New returns the encoder for a segment format name.
func New(format string) (Encoder, error) {
	switch format {
	case "wav":
		return NewWAV(), nil
	case "flac":
		return NewFlac()
	default:
		return nil, fmt.Errorf("unknown segment format %q (use wav or flac)", format)
	}
}
