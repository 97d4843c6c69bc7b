package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cutpoint/chunkcast/cmd/chunkcast/config"
	"github.com/cutpoint/chunkcast/cmd/chunkcast/dispatcher"
	"github.com/cutpoint/chunkcast/cmd/chunkcast/extractor"
	"github.com/cutpoint/chunkcast/cmd/chunkcast/merger"
	"github.com/cutpoint/chunkcast/cmd/chunkcast/planner"
	"github.com/cutpoint/chunkcast/cmd/chunkcast/probe"
	"github.com/cutpoint/chunkcast/cmd/chunkcast/transcript"
	"github.com/google/uuid"
)

func slogReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		source.File = filepath.Base(source.File)
	}
	return a
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slog.LevelInfo,
		ReplaceAttr: slogReplaceAttr,
	}))
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load config", slog.String("err", err.Error()))
		os.Exit(1)
	}
	cfg.SetDefaults()
	if err := cfg.IsValid(); err != nil {
		slog.Error("invalid config", slog.String("err", err.Error()))
		os.Exit(1)
	}

	runID := uuid.NewString()
	slog.Info("starting chunkcast run", slog.String("run_id", runID), slog.String("input", cfg.InputPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		slog.Info("received interrupt, cancelling run", slog.String("run_id", runID))
		cancel()
	}()

	if err := run(ctx, cfg, runID); err != nil {
		slog.Error("run failed", slog.String("run_id", runID), slog.String("err", err.Error()))
		os.Exit(1)
	}

	slog.Info("run complete", slog.String("run_id", runID))
}

func run(ctx context.Context, cfg config.Config, runID string) error {
	opener := probe.WAVOpener
	p := probe.New(opener, cfg.InputPath)

	duration, err := p.Duration()
	if err != nil {
		return fmt.Errorf("probing duration: %w", err)
	}

	plan, err := planner.Plan(p, duration, planner.Config{
		ChunkLengthSeconds:   cfg.ChunkLengthSeconds,
		SilenceWindowSeconds: cfg.SilenceWindowSeconds,
		RMSThreshold:         cfg.RMSThreshold,
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
		OverlapSeconds:       cfg.OverlapSeconds,
		ProgressSink: func(percent float64) {
			slog.Info("planning progress", slog.String("run_id", runID), slog.Float64("percent", percent))
		},
	})
	if err != nil {
		return fmt.Errorf("planning chunks: %w", err)
	}
	slog.Info("plan ready", slog.String("run_id", runID), slog.Int("chunks", len(plan)), slog.Float64("duration_seconds", duration))

	ex := extractor.NewDecodedReencodeExtractor(opener, cfg.InputPath, cfg.MaxChunkBytes)
	client := dispatcher.NewRestyClient(cfg.BaseURL, cfg.APIKey, time.Duration(cfg.PerRequestTimeoutMs)*time.Millisecond)

	hooks := &loggingHooks{runID: runID}
	d := dispatcher.New(ex, client, hooks, dispatcher.Options{
		Model:             cfg.Model,
		Language:          cfg.Language,
		PerRequestTimeout: time.Duration(cfg.PerRequestTimeoutMs) * time.Millisecond,
		InterChunkDelay:   time.Duration(cfg.InterChunkDelayMs) * time.Millisecond,
		Policy: transcript.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialDelayMs: cfg.Retry.InitialDelayMs,
			Multiplier:     cfg.Retry.Multiplier,
			MaxDelayMs:     cfg.Retry.MaxDelayMs,
		},
	})

	results, err := d.TranscribeAll(ctx, plan)
	if err != nil {
		slog.Warn("run cancelled, emitting partial transcript",
			slog.String("run_id", runID), slog.Int("chunks_completed", len(results)))
	}

	merged := merger.Merge(results, cfg.OverlapSeconds)
	fmt.Println(merged.Text)

	if path := os.Getenv("CHUNKCAST_DIAGNOSTICS_PATH"); path != "" {
		if writeErr := writeDiagnostics(path, runID, plan, results, merged); writeErr != nil {
			slog.Warn("failed to write diagnostics", slog.String("run_id", runID), slog.String("err", writeErr.Error()))
		}
	}

	return err
}

// loggingHooks is the production dispatcher.Hooks: it logs every
// lifecycle transition and otherwise does nothing.
type loggingHooks struct {
	runID string
}

func (h *loggingHooks) OnChunkStart(chunk transcript.Chunk, index int) {
	slog.Info("chunk started", slog.String("run_id", h.runID), slog.Int("index", index), slog.String("chunk", chunk.String()))
}

func (h *loggingHooks) OnChunkComplete(chunk transcript.Chunk, index int, result transcript.TranscriptionResult) {
	slog.Info("chunk complete", slog.String("run_id", h.runID), slog.Int("index", index), slog.Int("words", len(result.Words)))
}

func (h *loggingHooks) OnChunkError(chunk transcript.Chunk, index int, err error) {
	slog.Error("chunk failed", slog.String("run_id", h.runID), slog.Int("index", index), slog.String("err", err.Error()))
}

func (h *loggingHooks) OnRetry(chunk transcript.Chunk, index int, attempt, maxAttempts, delayMs int, kind transcript.ErrorKind) {
	slog.Warn("chunk retrying",
		slog.String("run_id", h.runID), slog.Int("index", index),
		slog.Int("attempt", attempt), slog.Int("max_attempts", maxAttempts),
		slog.Int("delay_ms", delayMs), slog.String("kind", string(kind)))
}

type diagnosticsReport struct {
	RunID          string                           `json:"run_id"`
	Chunks         []transcript.Chunk               `json:"chunks"`
	Results        []transcript.TranscriptionResult `json:"results"`
	Text           string                           `json:"text"`
	OverlapsMerged int                               `json:"overlaps_merged"`
	WordsDropped   int                               `json:"words_dropped"`
}

func writeDiagnostics(path, runID string, plan []transcript.Chunk, results []transcript.TranscriptionResult, merged merger.Result) error {
	report := diagnosticsReport{
		RunID:          runID,
		Chunks:         plan,
		Results:        results,
		Text:           merged.Text,
		OverlapsMerged: merged.Diagnostics.OverlapsMerged,
		WordsDropped:   merged.Diagnostics.WordsDropped,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling diagnostics: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
