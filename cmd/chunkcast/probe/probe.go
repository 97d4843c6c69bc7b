// Package probe implements the Audio Probe: duration, windowed silence
// detection, and a low-resolution waveform summary, all read through the
// Decoder boundary. Silence detection reads only the window being
// analyzed; Waveform reads the whole file when it is at most
// longFileThresholdSeconds long and fixed-size snippets otherwise.
package probe

import (
	"fmt"
	"math"

	"github.com/cutpoint/chunkcast/cmd/chunkcast/transcript"
)

const (
	analysisFrameMs = 50

	// longFileThresholdSeconds is the design default above which Waveform
	// switches to the sampled-snippet strategy.
	longFileThresholdSeconds = 10 * 60
	snippetSeconds           = 1.0
)

// Probe reads a single audio file through its Decoder.
type Probe struct {
	opener DecoderOpener
	path   string
}

// New opens the Probe against path using opener. Duration/Silences/
// Waveform each open and close their own Decoder so no file handle is
// held between calls.
func New(opener DecoderOpener, path string) *Probe {
	return &Probe{opener: opener, path: path}
}

// Duration returns the total playable duration in seconds.
func (p *Probe) Duration() (float64, error) {
	dec, err := p.opener.Open(p.path)
	if err != nil {
		return 0, err
	}
	defer dec.Close()
	return dec.Duration(), nil
}

// SilencesInWindow analyzes only [max(0, center-window/2), min(duration,
// center+window/2)] and returns the silences found in it. RMS is computed
// over fixed 50ms non-overlapping analysis frames; a contiguous run below
// rmsThreshold is a candidate, emitted only if its total span is >=
// minSilenceMs.
func (p *Probe) SilencesInWindow(center, windowSeconds, rmsThreshold, minSilenceMs float64) ([]transcript.Silence, error) {
	dec, err := p.opener.Open(p.path)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	duration := dec.Duration()
	winStart := math.Max(0, center-windowSeconds/2)
	winEnd := math.Min(duration, center+windowSeconds/2)
	if winEnd <= winStart {
		return nil, nil
	}

	sr := dec.SampleRate()
	frameSamples := int(float64(sr) * analysisFrameMs / 1000.0)
	if frameSamples <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sr)
	}

	startSample := int(winStart * float64(sr))
	endSample := int(winEnd * float64(sr))

	samples, err := dec.ReadPCM(startSample, endSample)
	if err != nil {
		return nil, err
	}

	var silences []transcript.Silence
	runStart := -1

	flush := func(runEndFrame int) {
		if runStart < 0 {
			return
		}
		startSec := winStart + float64(runStart*frameSamples)/float64(sr)
		endSec := winStart + float64(runEndFrame*frameSamples)/float64(sr)
		if endSec > winEnd {
			endSec = winEnd
		}
		durMs := (endSec - startSec) * 1000.0
		if durMs >= minSilenceMs {
			silences = append(silences, transcript.Silence{
				Start:      startSec,
				End:        endSec,
				DurationMs: durMs,
				Midpoint:   (startSec + endSec) / 2,
			})
		}
		runStart = -1
	}

	numFrames := (len(samples) + frameSamples - 1) / frameSamples
	for f := 0; f < numFrames; f++ {
		lo := f * frameSamples
		hi := lo + frameSamples
		if hi > len(samples) {
			hi = len(samples)
		}
		rms := frameRMS(samples[lo:hi])
		if rms < rmsThreshold {
			if runStart < 0 {
				runStart = f
			}
		} else {
			flush(f)
		}
	}
	flush(numFrames)

	return silences, nil
}

func frameRMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range frame {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(frame)))
}

// Waveform produces a peak-amplitude summary of length numPoints, each
// value in [0,1]. For files longer than longFileThresholdSeconds it uses
// a sampled strategy: fixed small snippets decoded at regular intervals,
// so peak memory stays O(snippet) rather than O(file).
func (p *Probe) Waveform(numPoints int) ([]float64, error) {
	if numPoints <= 0 {
		return nil, fmt.Errorf("numPoints must be positive")
	}

	dec, err := p.opener.Open(p.path)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	duration := dec.Duration()
	sr := dec.SampleRate()
	out := make([]float64, numPoints)

	if duration <= longFileThresholdSeconds {
		totalSamples := int(duration * float64(sr))
		samples, err := dec.ReadPCM(0, totalSamples)
		if err != nil {
			return nil, err
		}
		bucket := len(samples) / numPoints
		if bucket == 0 {
			bucket = 1
		}
		for i := 0; i < numPoints; i++ {
			lo := i * bucket
			hi := lo + bucket
			if hi > len(samples) {
				hi = len(samples)
			}
			if lo >= len(samples) {
				break
			}
			out[i] = peakAmplitude(samples[lo:hi])
		}
		return out, nil
	}

	// Sampled strategy: one short snippet per point, spread across the file.
	snippetSamples := int(snippetSeconds * float64(sr))
	for i := 0; i < numPoints; i++ {
		center := duration * (float64(i) + 0.5) / float64(numPoints)
		startSample := int(center*float64(sr)) - snippetSamples/2
		endSample := startSample + snippetSamples
		samples, err := dec.ReadPCM(startSample, endSample)
		if err != nil {
			return nil, err
		}
		out[i] = peakAmplitude(samples)
	}
	return out, nil
}

func peakAmplitude(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		a := math.Abs(float64(s))
		if a > peak {
			peak = a
		}
	}
	if peak > 1 {
		peak = 1
	}
	return peak
}
