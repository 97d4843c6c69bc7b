// Package planner implements the Chunk Planner: converting a file's
// duration into an ordered list of Chunks whose logical boundaries fall
// inside silence where possible, and whose actual boundaries overrun
// those logical boundaries by the configured overlap.
package planner

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/cutpoint/chunkcast/cmd/chunkcast/transcript"
)

// SilenceSource is the subset of the Probe the Planner depends on. The
// Planner borrows it only to locate cut points; all failures from it
// degrade to "no silences found" for that window.
type SilenceSource interface {
	SilencesInWindow(center, windowSeconds, rmsThreshold, minSilenceMs float64) ([]transcript.Silence, error)
}

// ProgressSink receives monotonically increasing percentages in [0,100].
type ProgressSink func(percent float64)

// Config enumerates every tunable the Planner consumes.
type Config struct {
	ChunkLengthSeconds   float64
	SilenceWindowSeconds float64
	RMSThreshold         float64
	MinSilenceDurationMs float64
	OverlapSeconds       float64
	ProgressSink         ProgressSink
}

// ConfigError is returned by Plan when the supplied Config is invalid.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("invalid planner config: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

func (c Config) validate() error {
	if c.ChunkLengthSeconds <= 0 {
		return fmt.Errorf("ChunkLengthSeconds must be positive")
	}
	if c.SilenceWindowSeconds <= 0 {
		return fmt.Errorf("SilenceWindowSeconds must be positive")
	}
	if c.OverlapSeconds < 0 {
		return fmt.Errorf("OverlapSeconds cannot be negative")
	}
	return nil
}

// endSlackSeconds is the slack applied when placing the final cut: once
// the ideal cut lands within this of the file's end, planning stops
// rather than emitting a sliver chunk.
const endSlackSeconds = 1.0

// Plan walks the file from 0 to duration placing cuts at each ideal
// boundary (silence-adjusted where possible), then widens each logical
// chunk into its actual, overlap-padded range, and returns the ordered
// Chunks.
func Plan(source SilenceSource, duration float64, cfg Config) ([]transcript.Chunk, error) {
	if err := cfg.validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	if duration <= 0 {
		return nil, &ConfigError{Err: fmt.Errorf("duration must be positive")}
	}

	cutPoints, cutKinds := locateCutPoints(source, duration, cfg)
	chunks := materializeChunks(cutPoints, cutKinds, duration, cfg.OverlapSeconds)

	if cfg.ProgressSink != nil {
		cfg.ProgressSink(100)
	}

	return chunks, nil
}

// locateCutPoints is pass 1: it walks forward from 0, asking the probe
// for silences around each ideal cut and picking the best-scoring one,
// or falling back to an exact cut.
func locateCutPoints(source SilenceSource, duration float64, cfg Config) ([]float64, []transcript.CutKind) {
	cutPoints := []float64{0}
	cutKinds := []transcript.CutKind{transcript.CutKindEnd} // placeholder for index 0, unused

	// Pass 1 progress budget is the first half; we don't know the final
	// chunk count in advance, so report against the ideal-cut progression
	// through the file instead.
	reportProgress := func(lastCut float64) {
		if cfg.ProgressSink == nil {
			return
		}
		pct := (lastCut / duration) * 50
		if pct > 50 {
			pct = 50
		}
		cfg.ProgressSink(pct)
	}

	for {
		lastCut := cutPoints[len(cutPoints)-1]
		ideal := math.Min(lastCut+cfg.ChunkLengthSeconds, duration)
		if ideal >= duration-endSlackSeconds {
			break
		}

		cut, kind := chooseCut(source, ideal, cfg)
		cutPoints = append(cutPoints, cut)
		cutKinds = append(cutKinds, kind)
		reportProgress(cut)
	}

	cutPoints = append(cutPoints, duration)
	cutKinds = append(cutKinds, transcript.CutKindEnd)

	if cfg.ProgressSink != nil {
		cfg.ProgressSink(50)
	}

	return cutPoints, cutKinds
}

// chooseCut asks the probe for silences around ideal and scores them,
// falling back to an exact cut at ideal if none qualify or the probe
// fails. Score is silence length in ms penalized by 100x the distance
// in seconds from ideal; ties go to the earlier candidate.
func chooseCut(source SilenceSource, ideal float64, cfg Config) (float64, transcript.CutKind) {
	silences, err := source.SilencesInWindow(ideal, cfg.SilenceWindowSeconds, cfg.RMSThreshold, cfg.MinSilenceDurationMs)
	if err != nil {
		slog.Warn("silence detection failed for window, falling back to exact cut",
			slog.Float64("ideal", ideal), slog.String("err", err.Error()))
		return ideal, transcript.CutKindExact
	}
	if len(silences) == 0 {
		return ideal, transcript.CutKindExact
	}

	best := silences[0]
	bestScore := score(best, ideal)
	for _, s := range silences[1:] {
		sc := score(s, ideal)
		if sc > bestScore {
			best = s
			bestScore = sc
		}
	}

	return best.Midpoint, transcript.CutKindSilence
}

func score(s transcript.Silence, ideal float64) float64 {
	return s.DurationMs - math.Abs(s.Midpoint-ideal)*100
}

// materializeChunks is pass 2: each adjacent pair of cut points becomes
// a Chunk whose actual range overruns the logical one by the overlap,
// clamped to [0, duration] and zeroed at the plan's edges.
func materializeChunks(cutPoints []float64, cutKinds []transcript.CutKind, duration, overlap float64) []transcript.Chunk {
	n := len(cutPoints) - 1
	chunks := make([]transcript.Chunk, 0, n)

	for i := 0; i < n; i++ {
		logicalStart := cutPoints[i]
		logicalEnd := cutPoints[i+1]

		actualStart := math.Max(0, logicalStart-overlap)
		actualEnd := math.Min(duration, logicalEnd+overlap)

		if i == 0 {
			actualStart = 0
		}
		if i == n-1 {
			actualEnd = duration
		}

		kind := cutKinds[i+1]
		if i == n-1 {
			kind = transcript.CutKindEnd
		}

		chunks = append(chunks, transcript.Chunk{
			Index:           i,
			LogicalStart:    logicalStart,
			LogicalEnd:      logicalEnd,
			ActualStart:     actualStart,
			ActualEnd:       actualEnd,
			LeadingOverlap:  logicalStart - actualStart,
			TrailingOverlap: actualEnd - logicalEnd,
			CutKind:         kind,
		})
	}

	return chunks
}
