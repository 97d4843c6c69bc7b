package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cutpoint/chunkcast/cmd/chunkcast/probe"
	"github.com/cutpoint/chunkcast/cmd/chunkcast/transcript"
	"github.com/stretchr/testify/require"
)

const sampleRate = 8000

func writeWAV(t *testing.T, seconds float64) string {
	t.Helper()
	n := int(seconds * sampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.5
	}
	data := probe.EncodeWAVMono16(samples, sampleRate)
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestDecodedReencodeExtractor_ExactSampleRange(t *testing.T) {
	path := writeWAV(t, 10)
	ex := NewDecodedReencodeExtractor(probe.WAVOpener, path, 10*1024*1024)

	chunk := transcript.Chunk{Index: 0, ActualStart: 2, ActualEnd: 4}
	payload, err := ex.Extract(chunk)
	require.NoError(t, err)

	// 2 seconds of 8kHz mono 16-bit PCM plus a 44-byte header.
	require.Equal(t, 44+2*sampleRate*2, len(payload.Bytes))
	require.NotEmpty(t, payload.MimeType)
}

func TestDecodedReencodeExtractor_TooLarge(t *testing.T) {
	path := writeWAV(t, 10)
	ex := NewDecodedReencodeExtractor(probe.WAVOpener, path, 100)

	chunk := transcript.Chunk{Index: 0, ActualStart: 0, ActualEnd: 10}
	_, err := ex.Extract(chunk)
	require.Error(t, err)
	var tooLarge *ErrPayloadTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestRawSliceExtractor(t *testing.T) {
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	ex := NewRawSliceExtractor(data, 10, 10*1024*1024)

	chunk := transcript.Chunk{Index: 0, ActualStart: 2, ActualEnd: 4}
	payload, err := ex.Extract(chunk)
	require.NoError(t, err)
	require.NotEmpty(t, payload.Bytes)
	// Padded by epsilon on both sides, so strictly more than the raw 2s slice.
	require.Greater(t, len(payload.Bytes), 2000)
}

func TestRawSliceExtractor_TooLarge(t *testing.T) {
	data := make([]byte, 10000)
	ex := NewRawSliceExtractor(data, 10, 50)

	chunk := transcript.Chunk{Index: 0, ActualStart: 0, ActualEnd: 10}
	_, err := ex.Extract(chunk)
	require.Error(t, err)
	var tooLarge *ErrPayloadTooLarge
	require.ErrorAs(t, err, &tooLarge)
}
