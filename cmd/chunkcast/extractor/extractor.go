// Package extractor implements the Chunk Extractor: given a Chunk,
// produce a self-contained audio payload covering exactly its actual
// range, in a format the transcription service accepts.
package extractor

import (
	"fmt"
	"math"

	"github.com/cutpoint/chunkcast/cmd/chunkcast/probe"
	"github.com/cutpoint/chunkcast/cmd/chunkcast/transcript"
	"github.com/gabriel-vasile/mimetype"
)

// Payload is a self-contained audio blob ready for the Dispatcher to
// submit, with the MIME type sniffed so the multipart request can
// declare it accurately.
type Payload struct {
	Bytes    []byte
	MimeType string
}

// ErrPayloadTooLarge is returned when a payload would exceed the
// configured byte ceiling.
type ErrPayloadTooLarge struct {
	Size, Ceiling int64
}

func (e *ErrPayloadTooLarge) Error() string {
	return fmt.Sprintf("payload size %d exceeds ceiling %d", e.Size, e.Ceiling)
}

// Extractor produces a Payload for a Chunk's actual range.
type Extractor interface {
	Extract(chunk transcript.Chunk) (Payload, error)
}

// DecodedReencodeExtractor decodes a chunk's exact sample range and
// re-encodes it as uncompressed PCM framed in a WAV header. This is the
// preferred strategy because it has no codec frame-boundary artifacts.
type DecodedReencodeExtractor struct {
	opener   probe.DecoderOpener
	path     string
	maxBytes int64
}

// NewDecodedReencodeExtractor builds an Extractor that decodes through
// opener against the file at path, rejecting payloads over maxBytes.
func NewDecodedReencodeExtractor(opener probe.DecoderOpener, path string, maxBytes int64) *DecodedReencodeExtractor {
	return &DecodedReencodeExtractor{opener: opener, path: path, maxBytes: maxBytes}
}

func (e *DecodedReencodeExtractor) Extract(chunk transcript.Chunk) (p Payload, retErr error) {
	dec, err := e.opener.Open(e.path)
	if err != nil {
		return Payload{}, err
	}
	defer func() {
		if err := dec.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("failed to close decoder: %w", err)
		}
	}()

	sr := dec.SampleRate()
	startSample := int(math.Floor(chunk.ActualStart * float64(sr)))
	endSample := int(math.Ceil(chunk.ActualEnd * float64(sr)))

	samples, err := dec.ReadPCM(startSample, endSample)
	if err != nil {
		return Payload{}, err
	}

	wav := probe.EncodeWAVMono16(samples, sr)
	if int64(len(wav)) > e.maxBytes {
		return Payload{}, &ErrPayloadTooLarge{Size: int64(len(wav)), Ceiling: e.maxBytes}
	}

	mt := mimetype.Detect(wav)

	return Payload{Bytes: wav, MimeType: mt.String()}, nil
}

// RawSliceExtractor takes a byte-range slice of an already-encoded
// source, padded by a small frame-alignment guard. Only valid when the
// payload will be re-decoded by the service and mid-frame fragments are
// tolerated.
type RawSliceExtractor struct {
	data       []byte
	duration   float64
	epsilonSec float64
	maxBytes   int64
}

// defaultEpsilonSeconds is the design default 50ms frame-alignment guard.
const defaultEpsilonSeconds = 0.05

// NewRawSliceExtractor builds a RawSliceExtractor over an in-memory
// encoded source of the given total duration.
func NewRawSliceExtractor(data []byte, duration float64, maxBytes int64) *RawSliceExtractor {
	return &RawSliceExtractor{data: data, duration: duration, epsilonSec: defaultEpsilonSeconds, maxBytes: maxBytes}
}

func (e *RawSliceExtractor) Extract(chunk transcript.Chunk) (Payload, error) {
	if e.duration <= 0 {
		return Payload{}, fmt.Errorf("source duration must be positive")
	}

	bytesPerSecond := float64(len(e.data)) / e.duration

	startSec := math.Max(0, chunk.ActualStart-e.epsilonSec)
	endSec := math.Min(e.duration, chunk.ActualEnd+e.epsilonSec)

	startByte := int(startSec * bytesPerSecond)
	endByte := int(math.Ceil(endSec * bytesPerSecond))
	if endByte > len(e.data) {
		endByte = len(e.data)
	}
	if startByte < 0 {
		startByte = 0
	}
	if startByte >= endByte {
		return Payload{}, fmt.Errorf("empty slice for chunk %d", chunk.Index)
	}

	slice := e.data[startByte:endByte]
	if int64(len(slice)) > e.maxBytes {
		return Payload{}, &ErrPayloadTooLarge{Size: int64(len(slice)), Ceiling: e.maxBytes}
	}

	mt := mimetype.Detect(slice)
	return Payload{Bytes: slice, MimeType: mt.String()}, nil
}
