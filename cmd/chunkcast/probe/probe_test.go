package probe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSampleRate = 8000

// writeTestWAV builds a WAV file with loudSeconds of a loud tone, then
// silenceSeconds of near-zero signal, then loudSeconds of tone again.
func writeTestWAV(t *testing.T, loudSeconds, silenceSeconds float64) string {
	t.Helper()

	loudSamples := int(loudSeconds * testSampleRate)
	silenceSamples := int(silenceSeconds * testSampleRate)

	samples := make([]float32, 0, 2*loudSamples+silenceSamples)
	for i := 0; i < loudSamples; i++ {
		samples = append(samples, 0.8)
	}
	for i := 0; i < silenceSamples; i++ {
		samples = append(samples, 0)
	}
	for i := 0; i < loudSamples; i++ {
		samples = append(samples, 0.8)
	}

	data := EncodeWAVMono16(samples, testSampleRate)

	path := filepath.Join(t.TempDir(), "test.wav")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestProbeDuration(t *testing.T) {
	path := writeTestWAV(t, 2, 1)
	p := New(WAVOpener, path)

	d, err := p.Duration()
	require.NoError(t, err)
	require.InDelta(t, 5.0, d, 0.01)
}

func TestProbeSilencesInWindow(t *testing.T) {
	path := writeTestWAV(t, 2, 1)
	p := New(WAVOpener, path)

	// The silence sits at [2, 3). Center a 4s window (2s each side) on 2.5.
	silences, err := p.SilencesInWindow(2.5, 4, 0.1, 300)
	require.NoError(t, err)
	require.Len(t, silences, 1)
	require.InDelta(t, 2.0, silences[0].Start, 0.1)
	require.InDelta(t, 3.0, silences[0].End, 0.1)
	require.GreaterOrEqual(t, silences[0].DurationMs, 300.0)
}

func TestProbeSilencesInWindow_BelowMinDuration(t *testing.T) {
	path := writeTestWAV(t, 2, 1)
	p := New(WAVOpener, path)

	silences, err := p.SilencesInWindow(2.5, 4, 0.1, 5000)
	require.NoError(t, err)
	require.Empty(t, silences)
}

func TestProbeWaveform(t *testing.T) {
	path := writeTestWAV(t, 2, 1)
	p := New(WAVOpener, path)

	wave, err := p.Waveform(10)
	require.NoError(t, err)
	require.Len(t, wave, 10)
	for _, v := range wave {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
	}
}
