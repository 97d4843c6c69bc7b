package probe

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const wavHeaderLen = 44

// WAVDecoder is the one concrete, dependency-free Decoder: a 16-bit PCM
// WAV reader that reads sample rate and channel count from the header
// rather than assuming a fixed rate.
type WAVDecoder struct {
	f          *os.File
	sampleRate int
	channels   int
	bitDepth   int
	dataOffset int64
	numSamples int // per channel
}

type wavDecoderOpener struct{}

// WAVOpener is the DecoderOpener for WAVDecoder.
var WAVOpener DecoderOpener = wavDecoderOpener{}

func (wavDecoderOpener) Open(path string) (Decoder, error) {
	return OpenWAV(path)
}

// OpenWAV opens a WAV file and parses its header without reading the
// sample data, so peak memory stays O(1) until ReadPCM is called.
func OpenWAV(path string) (*WAVDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	d, err := parseWAVHeader(f)
	if err != nil {
		f.Close()
		return nil, &DecodeError{Err: err}
	}
	d.f = f
	return d, nil
}

func parseWAVHeader(f *os.File) (*WAVDecoder, error) {
	header := make([]byte, wavHeaderLen)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a WAV file")
	}

	channels := int(binary.LittleEndian.Uint16(header[22:24]))
	sampleRate := int(binary.LittleEndian.Uint32(header[24:28]))
	bitDepth := int(binary.LittleEndian.Uint16(header[34:36]))
	dataLen := int(binary.LittleEndian.Uint32(header[40:44]))

	if channels <= 0 || sampleRate <= 0 || bitDepth != 16 {
		return nil, fmt.Errorf("unsupported WAV format: channels=%d rate=%d bitDepth=%d", channels, sampleRate, bitDepth)
	}

	bytesPerFrame := channels * bitDepth / 8
	numSamples := dataLen / bytesPerFrame

	return &WAVDecoder{
		sampleRate: sampleRate,
		channels:   channels,
		bitDepth:   bitDepth,
		dataOffset: wavHeaderLen,
		numSamples: numSamples,
	}, nil
}

func (d *WAVDecoder) Duration() float64 {
	return float64(d.numSamples) / float64(d.sampleRate)
}

func (d *WAVDecoder) SampleRate() int { return d.sampleRate }
func (d *WAVDecoder) Channels() int   { return d.channels }

// ReadPCM reads the half-open frame range [startSample, endSample) and
// down-mixes to mono float32 in [-1, 1].
func (d *WAVDecoder) ReadPCM(startSample, endSample int) ([]float32, error) {
	if startSample < 0 {
		startSample = 0
	}
	if endSample > d.numSamples {
		endSample = d.numSamples
	}
	if endSample <= startSample {
		return nil, nil
	}

	bytesPerFrame := d.channels * d.bitDepth / 8
	offset := d.dataOffset + int64(startSample)*int64(bytesPerFrame)
	n := endSample - startSample

	buf := make([]byte, n*bytesPerFrame)
	if _, err := d.f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, &DecodeError{Err: err}
	}

	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum int32
		for c := 0; c < d.channels; c++ {
			idx := i*bytesPerFrame + c*2
			sum += int32(int16(binary.LittleEndian.Uint16(buf[idx:])))
		}
		out[i] = float32(sum) / float32(d.channels) / 32768.0
	}

	return out, nil
}

func (d *WAVDecoder) Close() error {
	if d.f == nil {
		return fmt.Errorf("decoder is not initialized")
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// EncodeWAVMono16 re-encodes mono float32 samples in [-1, 1] as a 16-bit
// PCM mono WAV payload.
func EncodeWAVMono16(samples []float32, sampleRate int) []byte {
	const bitDepth = 16
	const channels = 1

	wav := make([]byte, wavHeaderLen+len(samples)*2)
	pcm := wav[wavHeaderLen:]

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:], uint32(len(wav)-8))
	copy(wav[8:12], "WAVE")
	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:], 16)
	binary.LittleEndian.PutUint16(wav[20:], 1)
	binary.LittleEndian.PutUint16(wav[22:], channels)
	binary.LittleEndian.PutUint32(wav[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:], uint32(sampleRate*bitDepth*channels/8))
	binary.LittleEndian.PutUint16(wav[32:], uint16(bitDepth*channels/8))
	binary.LittleEndian.PutUint16(wav[34:], bitDepth)
	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:], uint32(len(samples)*2))

	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*32767.0)))
	}

	return wav
}
