package probe

import "fmt"

// Decoder abstracts the concrete audio container/codec the Probe and
// Extractor read through. The core never embeds a specific codec; a
// production deployment supplies one (e.g. a whisper.cpp or opus cgo
// decoder) behind this boundary. Sample rate and channel count are a
// property of the Decoder rather than a fixed constant: every concrete
// decoder reports its own.
//
// ReadPCM must return mono float32 samples in [-1, 1], resampled or
// down-mixed as needed by the concrete implementation, for the half-open
// sample range [startSample, endSample) at SampleRate().
type Decoder interface {
	Duration() float64
	SampleRate() int
	Channels() int
	ReadPCM(startSample, endSample int) ([]float32, error)
	Close() error
}

// DecodeError wraps a failure to parse or read the underlying container.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecoderOpener opens a Decoder for a file path. The Probe and Extractor
// depend on this rather than a concrete type so callers can plug in any
// codec without the core importing it.
type DecoderOpener interface {
	Open(path string) (Decoder, error)
}
